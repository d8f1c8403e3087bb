/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */

// Package sprints compiles an issue's sprint add/remove timeline into
// per-sprint membership records and reconciles them with the stored ones.
package sprints

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/interval"
)

// Policy carries the tenant settings that shape the compiled records.
type Policy struct {
	// IgnorableIssueTypes are matched case-insensitively against the issue type.
	IgnorableIssueTypes []string
	// RemovedAtCompletionInclusive counts a removal at the exact completion
	// instant as mid-sprint.
	RemovedAtCompletionInclusive bool
}

func (p Policy) ignorable(issueType string) bool {
	for _, t := range p.IgnorableIssueTypes {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(issueType)) {
			return true
		}
	}
	return false
}

type Compiler struct {
	log zerolog.Logger
	now func() time.Time
}

func NewCompiler(log zerolog.Logger, now func() time.Time) *Compiler {
	if now == nil {
		now = time.Now
	}
	return &Compiler{log: log, now: now}
}

// Compile produces at most one record per sprint in issue.SprintEvents and the
// set of sprints the issue must not be counted in.
func (c *Compiler) Compile(ctx context.Context, tenant string, issue domain.StoredIssue, lk Lookups, pol Policy) (domain.CompiledSprintEvents, error) {
	out := domain.CompiledSprintEvents{}
	if len(issue.SprintEvents) == 0 {
		return out, nil
	}
	now := c.now()
	log := c.log.With().Str("tenant", tenant).Str("integration", issue.IntegrationID).Str("key", issue.Key).Logger()

	ids := make([]string, 0, len(issue.SprintEvents))
	for id := range issue.SprintEvents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := interval.Sorted(issue.Statuses)
	points := interval.Sorted(issue.StoryPointsLog)
	ignorable := pol.ignorable(issue.IssueType)

	for _, sprintID := range ids {
		events := issue.SprintEvents[sprintID]
		if strings.TrimSpace(sprintID) == "" || len(events) == 0 {
			continue
		}
		meta, ok, err := lk.Sprints.Sprint(ctx, sprintID)
		if err != nil {
			return domain.CompiledSprintEvents{}, fmt.Errorf("load sprint %s: %w", sprintID, err)
		}
		if !ok {
			log.Debug().Str("sprint", sprintID).Msg("sprint events without sprint metadata; excluding")
			out.Excluded = append(out.Excluded, sprintID)
			continue
		}
		addedAt, ok := FindSprintAddedAtEventTime(events, meta, now)
		if !ok {
			out.Excluded = append(out.Excluded, sprintID)
			continue
		}

		rec := domain.SprintMembershipRecord{
			IntegrationID:      issue.IntegrationID,
			IssueKey:           issue.Key,
			SprintID:           sprintID,
			AddedAt:            addedAt.Truncate(time.Microsecond),
			Planned:            !addedAt.After(meta.StartDate),
			RemovedMidSprint:   IsRemovedFromActiveSprint(events, meta, now, pol.RemovedAtCompletionInclusive),
			IgnorableIssueType: ignorable,
		}
		if issue.IssueResolvedAt != nil && issue.IssueResolvedAt.Before(meta.StartDate) {
			rec.OutsideOfSprint = true
		}

		if meta.CompletedDate != nil {
			if st, ok := interval.At(statuses, *meta.CompletedDate); ok {
				done, err := IsDone(ctx, lk.Statuses, st)
				if err != nil {
					return domain.CompiledSprintEvents{}, fmt.Errorf("status category %s: %w", st.StatusID, err)
				}
				if done {
					rec.Delivered = true
					// finished before the sprint began: counted outside of it
					if st.Start.Before(meta.StartDate) {
						rec.OutsideOfSprint = true
					}
				}
			}
		}
		if rec.OutsideOfSprint {
			rec.Planned = false
			rec.Delivered = false
		}

		if sp, ok := interval.At(points, meta.StartDate); ok {
			rec.StoryPointsPlanned = sp.Points
		}
		if sp, ok := interval.At(points, windowEnd(meta, now)); ok {
			rec.StoryPointsDelivered = sp.Points
		}

		log.Debug().Str("sprint", sprintID).Time("added_at", rec.AddedAt).
			Bool("planned", rec.Planned).Bool("delivered", rec.Delivered).
			Bool("outside", rec.OutsideOfSprint).Bool("removed_mid_sprint", rec.RemovedMidSprint).
			Int("sp_planned", rec.StoryPointsPlanned).Int("sp_delivered", rec.StoryPointsDelivered).
			Msg("sprint mapping compiled")
		out.Upserts = append(out.Upserts, rec)
	}
	return out, nil
}

// windowEnd is the completion date of the sprint, or now while it is open.
func windowEnd(meta domain.SprintMetadata, now time.Time) time.Time {
	if meta.CompletedDate != nil {
		return *meta.CompletedDate
	}
	return now
}

// FindSprintAddedAtEventTime returns when the issue joined the sprint:
//   - the start of the ADDED event covering the sprint start (an ADDED event
//     starting at or before the start and still open at it), walking back
//     over ADDED events that abut it;
//   - otherwise the first ADDED event after the sprint start and before its
//     completion (or now);
//   - otherwise false, and the sprint is excluded for this issue.
func FindSprintAddedAtEventTime(events []domain.SprintEvent, meta domain.SprintMetadata, now time.Time) (time.Time, bool) {
	start := meta.StartDate
	if start.IsZero() {
		return time.Time{}, false
	}
	events = interval.Sorted(events)

	covering := -1
	for i, ev := range events {
		if ev.Start.After(start) {
			break
		}
		if ev.End.IsZero() || ev.End.After(start) {
			covering = i
		}
	}
	if covering >= 0 && events[covering].Type == domain.SprintAdded {
		i := covering
		for i > 0 && events[i-1].Type == domain.SprintAdded && events[i-1].End.Equal(events[i].Start) {
			i--
		}
		return events[i].Start, true
	}

	end := windowEnd(meta, now)
	for _, ev := range events {
		if ev.Type != domain.SprintAdded || ev.Start.Before(start) {
			continue
		}
		if !ev.Start.Before(end) {
			break
		}
		return ev.Start, true
	}
	return time.Time{}, false
}

// IsRemovedFromActiveSprint reports whether any REMOVED event happened while
// the sprint was running, even if the issue was added back afterwards. The
// running window is [start, completion) or [start, completion] when
// inclusiveEnd is set; an open sprint runs until now.
func IsRemovedFromActiveSprint(events []domain.SprintEvent, meta domain.SprintMetadata, now time.Time, inclusiveEnd bool) bool {
	if meta.StartDate.IsZero() {
		return false
	}
	end := windowEnd(meta, now)
	for _, ev := range events {
		if ev.Type == domain.SprintRemoved && interval.StartsWithin(ev, meta.StartDate, end, inclusiveEnd) {
			return true
		}
	}
	return false
}
