/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

type IssueStore interface {
	// GetIssue returns the revision of key stored for the asOf ingestion bucket.
	GetIssue(ctx context.Context, tenant, key, integrationID string, asOf time.Time) (domain.StoredIssue, bool, error)
	InsertIssue(ctx context.Context, tenant string, issue domain.StoredIssue) (string, error)
	// CountIssueRevisions counts stored revisions of key across all buckets,
	// stopping at limit.
	CountIssueRevisions(ctx context.Context, tenant, integrationID, key string, limit int) (int, error)
}

type Parser interface {
	Parse(s domain.IssueSnapshot) (domain.History, error)
}

type Emitter interface {
	Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error
}

// RuleScanner runs tenant automation rules against a new or updated issue.
type RuleScanner interface {
	ScanWithRules(ctx context.Context, tenant, key string, payload map[string]any) error
}

// Input is one snapshot together with the tenant settings it is processed
// under.
type Input struct {
	Tenant               string
	IntegrationID        string
	Job                  domain.FetchJob
	Snapshot             domain.IssueSnapshot
	ConfigVersion        int64
	SnapshottingDisabled bool
	SendUpdateEvents     bool
	ForceReprocess       bool
	Lookups              sprints.Lookups
	Policy               sprints.Policy
}

type Processor struct {
	issues     IssueStore
	parser     Parser
	compiler   *sprints.Compiler
	reconciler *sprints.Reconciler
	emitter    Emitter
	rules      RuleScanner
	log        zerolog.Logger
}

// NewProcessor accepts a nil rules scanner.
func NewProcessor(issues IssueStore, parser Parser, compiler *sprints.Compiler, reconciler *sprints.Reconciler, emitter Emitter, rules RuleScanner, log zerolog.Logger) *Processor {
	return &Processor{
		issues:     issues,
		parser:     parser,
		compiler:   compiler,
		reconciler: reconciler,
		emitter:    emitter,
		rules:      rules,
		log:        log,
	}
}

// Process decides on one snapshot and, when it has to be inserted, rebuilds
// its histories, refreshes its sprint mappings and stores the new revision.
// A returned error always comes with Success=false.
func (p *Processor) Process(ctx context.Context, in Input) (domain.ProcessingDecision, error) {
	snap := in.Snapshot
	log := p.log.With().Str("tenant", in.Tenant).Str("integration", in.IntegrationID).Str("key", snap.Key).Logger()
	ingestedAt := in.Job.IngestedAt(in.SnapshottingDisabled)

	prev, found, err := p.issues.GetIssue(ctx, in.Tenant, snap.Key, in.IntegrationID, ingestedAt)
	if err != nil {
		log.Warn().Err(err).Msg("load stored issue")
		return domain.ProcessingDecision{}, fmt.Errorf("get issue %s: %w", snap.Key, err)
	}
	var stored *domain.StoredIssue
	if found {
		stored = &prev
	}

	v := Decide(stored, snap, in.SnapshottingDisabled, in.ConfigVersion, in.ForceReprocess)
	log.Debug().Bool("today_new", v.TodayIssueIsNew).Bool("new_or_updated", v.ActuallyNewOrUpdated).
		Bool("reprocess", v.NeedsReprocessing).Bool("insert", v.ShouldInsert).Msg("snapshot decision")
	if !v.ShouldInsert {
		return decision(v, true, false), nil
	}

	hist, err := p.parser.Parse(snap)
	if err != nil {
		log.Error().Err(err).Msg("parse change log")
		return decision(v, false, false), fmt.Errorf("parse %s: %w", snap.Key, err)
	}
	issue := newStoredIssue(in, hist, ingestedAt, v.ConfigVersion)
	if stored != nil {
		issue.ID = stored.ID
	}

	compiled, err := p.compiler.Compile(ctx, in.Tenant, issue, in.Lookups, in.Policy)
	if err != nil {
		log.Warn().Err(err).Msg("compile sprint events")
		return decision(v, false, false), fmt.Errorf("compile sprints %s: %w", snap.Key, err)
	}
	if _, err := p.reconciler.Reconcile(ctx, in.Tenant, in.IntegrationID, snap.Key, compiled); err != nil {
		log.Warn().Err(err).Msg("reconcile sprint mappings")
		return decision(v, false, false), fmt.Errorf("sprint mappings %s: %w", snap.Key, err)
	}
	if _, err := p.issues.InsertIssue(ctx, in.Tenant, issue); err != nil {
		log.Warn().Err(err).Bool("today_new", v.TodayIssueIsNew).Msg("insert issue")
		return decision(v, false, false), fmt.Errorf("insert issue %s: %w", snap.Key, err)
	}

	sent := false
	// only for a real change, so a retry of the same cycle does not notify twice
	if v.ActuallyNewOrUpdated {
		sent = p.notify(ctx, log, in, v.TodayIssueIsNew)
	}
	return decision(v, true, sent), nil
}

func decision(v Verdict, success, sent bool) domain.ProcessingDecision {
	return domain.ProcessingDecision{
		Success:                     success,
		ShouldInsert:                v.ShouldInsert,
		TodayIssueIsNew:             v.TodayIssueIsNew,
		IssueIsActuallyNewOrUpdated: v.ActuallyNewOrUpdated,
		IssueNeedsReprocessing:      v.NeedsReprocessing,
		EventSent:                   sent,
	}
}

func newStoredIssue(in Input, h domain.History, ingestedAt time.Time, version int64) domain.StoredIssue {
	s := in.Snapshot
	return domain.StoredIssue{
		IntegrationID:   in.IntegrationID,
		Key:             s.Key,
		IssueType:       s.IssueType,
		Status:          s.Status,
		StatusID:        s.StatusID,
		IssueCreatedAt:  s.CreatedAt,
		IssueUpdatedAt:  s.UpdatedAt,
		IssueResolvedAt: s.ResolvedAt,
		IngestedAt:      ingestedAt,
		ConfigVersion:   &version,
		Statuses:        h.Statuses,
		StoryPointsLog:  h.StoryPoints,
		SprintEvents:    h.SprintEvents,
		Fields:          s.Fields,
	}
}

// notify runs the automation rules and emits the change event. Failures are
// logged; the issue is already stored.
func (p *Processor) notify(ctx context.Context, log zerolog.Logger, in Input, todayIssueIsNew bool) bool {
	payload := eventPayload(in)
	if p.rules != nil {
		if err := p.rules.ScanWithRules(ctx, in.Tenant, in.Snapshot.Key, payload); err != nil {
			log.Error().Err(err).Msg("automation rules")
		}
	}
	t, ok := p.eventType(ctx, log, in, todayIssueIsNew)
	if !ok || p.emitter == nil {
		return false
	}
	if err := p.emitter.Emit(ctx, in.Tenant, t, payload); err != nil {
		log.Error().Err(err).Str("event", string(t)).Msg("emit event")
		return false
	}
	return true
}

// eventType picks the notification for a new or updated issue. Historic and
// backward scans replay old data and send nothing.
func (p *Processor) eventType(ctx context.Context, log zerolog.Logger, in Input, todayIssueIsNew bool) (domain.EventType, bool) {
	if in.Job.From.IsZero() || in.Job.BackwardScan {
		return "", false
	}
	if todayIssueIsNew && p.newAcrossSnapshots(ctx, log, in) {
		return domain.EventIssueCreated, true
	}
	if in.SendUpdateEvents {
		return domain.EventIssueUpdated, true
	}
	return "", false
}

// newAcrossSnapshots holds when the revision just stored is the only one.
func (p *Processor) newAcrossSnapshots(ctx context.Context, log zerolog.Logger, in Input) bool {
	n, err := p.issues.CountIssueRevisions(ctx, in.Tenant, in.IntegrationID, in.Snapshot.Key, 2)
	if err != nil {
		log.Warn().Err(err).Msg("count issue revisions")
		return false
	}
	return n <= 1
}

func eventPayload(in Input) map[string]any {
	s := in.Snapshot
	p := map[string]any{
		"integration_id": in.IntegrationID,
		"key":            s.Key,
		"issue_type":     s.IssueType,
		"status":         s.Status,
		"created_at":     s.CreatedAt.Unix(),
		"updated_at":     s.UpdatedAt.Unix(),
	}
	if s.ResolvedAt != nil {
		p["resolved_at"] = s.ResolvedAt.Unix()
	}
	if len(s.SprintIDs) > 0 {
		p["sprint_ids"] = s.SprintIDs
	}
	if len(s.Fields) > 0 {
		p["fields"] = s.Fields
	}
	return p
}
