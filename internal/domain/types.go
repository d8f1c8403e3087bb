package domain

import "time"

// IssueSnapshot is one read of an issue's current state in the tracker.
type IssueSnapshot struct {
	Key         string         `json:"key"`
	IssueType   string         `json:"issue_type"`
	Status      string         `json:"status"`
	StatusID    string         `json:"status_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	StoryPoints *float64       `json:"story_points,omitempty"`
	SprintIDs   []string       `json:"sprint_ids,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Changelog   []ChangeItem   `json:"changelog,omitempty"`
}

// ChangeItem is a single field transition from the issue change log.
type ChangeItem struct {
	At         time.Time `json:"at"`
	Field      string    `json:"field"`
	From       string    `json:"from"`
	FromString string    `json:"from_string"`
	To         string    `json:"to"`
	ToString   string    `json:"to_string"`
}

// StatusInterval is a status held by the issue during [Start, End).
// A zero End means the status is still current.
type StatusInterval struct {
	Status   string    `json:"status"`
	StatusID string    `json:"status_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

func (s StatusInterval) Bounds() (time.Time, time.Time) { return s.Start, s.End }

type StoryPointsInterval struct {
	Points int       `json:"points"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

func (s StoryPointsInterval) Bounds() (time.Time, time.Time) { return s.Start, s.End }

type SprintEventType string

const (
	SprintAdded   SprintEventType = "ADDED"
	SprintRemoved SprintEventType = "REMOVED"
)

// SprintEvent is an issue entering or leaving a sprint. End is the start of
// the next event for the same sprint, or zero while the event is the latest.
type SprintEvent struct {
	SprintID string          `json:"sprint_id"`
	Type     SprintEventType `json:"type"`
	Start    time.Time       `json:"start"`
	End      time.Time       `json:"end"`
}

func (e SprintEvent) Bounds() (time.Time, time.Time) { return e.Start, e.End }

// History is what the change-log parser derives from a snapshot.
type History struct {
	Statuses     []StatusInterval
	StoryPoints  []StoryPointsInterval
	SprintEvents map[string][]SprintEvent
}

// StoredIssue is the last persisted revision of (tenant, integration, key).
type StoredIssue struct {
	ID              string
	IntegrationID   string
	Key             string
	IssueType       string
	Status          string
	StatusID        string
	IssueCreatedAt  time.Time
	IssueUpdatedAt  time.Time
	IssueResolvedAt *time.Time
	IngestedAt      time.Time
	ConfigVersion   *int64
	Statuses        []StatusInterval
	StoryPointsLog  []StoryPointsInterval
	SprintEvents    map[string][]SprintEvent
	Fields          map[string]any
}

// SprintMetadata carries the lifecycle dates of a sprint. A zero StartDate
// means the sprint has not started; CompletedDate is nil until it is closed.
type SprintMetadata struct {
	SprintID      string     `json:"sprint_id"`
	Name          string     `json:"name"`
	State         string     `json:"state"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       time.Time  `json:"end_date"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SprintMembershipRecord is unique by (IntegrationID, IssueKey, SprintID).
type SprintMembershipRecord struct {
	ID                   string    `json:"id,omitempty"`
	IntegrationID        string    `json:"integration_id"`
	IssueKey             string    `json:"issue_key"`
	SprintID             string    `json:"sprint_id"`
	AddedAt              time.Time `json:"added_at"`
	Planned              bool      `json:"planned"`
	Delivered            bool      `json:"delivered"`
	OutsideOfSprint      bool      `json:"outside_of_sprint"`
	RemovedMidSprint     bool      `json:"removed_mid_sprint"`
	StoryPointsPlanned   int       `json:"story_points_planned"`
	StoryPointsDelivered int       `json:"story_points_delivered"`
	IgnorableIssueType   bool      `json:"ignorable_issue_type"`
}

// SameContent reports whether two records carry the same membership facts,
// ignoring the storage id.
func (r SprintMembershipRecord) SameContent(o SprintMembershipRecord) bool {
	r.ID, o.ID = "", ""
	// timestamptz keeps microseconds
	return r.AddedAt.Truncate(time.Microsecond).Equal(o.AddedAt.Truncate(time.Microsecond)) &&
		r.withoutTime() == o.withoutTime()
}

func (r SprintMembershipRecord) withoutTime() SprintMembershipRecord {
	r.AddedAt = time.Time{}
	return r
}

// CompiledSprintEvents is the compiler output. Excluded is sorted and holds
// no duplicates; no record in Upserts has a sprint id listed in Excluded.
type CompiledSprintEvents struct {
	Upserts  []SprintMembershipRecord
	Excluded []string
}

func (c CompiledSprintEvents) IsExcluded(sprintID string) bool {
	for _, id := range c.Excluded {
		if id == sprintID {
			return true
		}
	}
	return false
}

type ProcessingDecision struct {
	Success                     bool `json:"success"`
	ShouldInsert                bool `json:"should_insert"`
	TodayIssueIsNew             bool `json:"today_issue_is_new"`
	IssueIsActuallyNewOrUpdated bool `json:"issue_is_actually_new_or_updated"`
	IssueNeedsReprocessing      bool `json:"issue_needs_reprocessing"`
	EventSent                   bool `json:"event_sent"`
}

// FetchJob describes the fetch cycle a snapshot belongs to. A zero From means
// a historic scan with no lower bound.
type FetchJob struct {
	FetchedAt    time.Time `json:"fetched_at"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	BackwardScan bool      `json:"backward_scan"`
}

// DisabledSnapshotting is the ingestion instant used for every revision of a
// tenant that keeps a single copy of each issue.
var DisabledSnapshotting = time.Unix(0, 0).UTC()

// IngestedAt is the snapshot bucket the job writes into: the UTC day of the
// fetch, or DisabledSnapshotting.
func (j FetchJob) IngestedAt(snapshottingDisabled bool) time.Time {
	if snapshottingDisabled {
		return DisabledSnapshotting
	}
	return j.FetchedAt.UTC().Truncate(24 * time.Hour)
}

type EventType string

const (
	EventIssueCreated EventType = "jira_issue_created"
	EventIssueUpdated EventType = "jira_issue_updated"
)

// StatusCategory maps a tracker status id onto its workflow category.
type StatusCategory struct {
	StatusID string `json:"status_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// IngestRun is the bookkeeping row of one ingest batch.
type IngestRun struct {
	ID             int64      `json:"id"`
	Tenant         string     `json:"tenant"`
	IntegrationID  string     `json:"integration_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	IssuesScanned  int        `json:"issues_scanned"`
	IssuesInserted int        `json:"issues_inserted"`
	IssuesFailed   int        `json:"issues_failed"`
	Success        bool       `json:"success"`
	Error          string     `json:"error"`
}
