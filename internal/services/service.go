/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/changelog"
	"github.com/linuxautomates/gitsei-sub041/internal/config"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/ingest"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

var ErrInvalidRequest = errors.New("invalid request")

// Store is everything the service needs from persistence.
type Store interface {
	ingest.IssueStore
	sprints.SprintStore
	sprints.StatusStore
	sprints.MappingStore
	UpsertSprint(ctx context.Context, tenant, integrationID string, m domain.SprintMetadata) (bool, error)
	UpsertStatusCategories(ctx context.Context, tenant, integrationID string, cats []domain.StatusCategory) error
	StartIngestRun(ctx context.Context, tenant, integrationID string, scanned int) (int64, error)
	FinishIngestRun(ctx context.Context, id int64, inserted, failed int, success bool, errStr string) error
	GetLastRun(ctx context.Context) (*domain.IngestRun, error)
}

type Service struct {
	cfg      config.Config
	log      zerolog.Logger
	store    Store
	policies *config.Policies
	registry *sprints.Registry
	runner   *ingest.Runner
}

// New wires the ingest pipeline. rules may be nil.
func New(cfg config.Config, log zerolog.Logger, store Store, policies *config.Policies, emitter ingest.Emitter, rules ingest.RuleScanner) *Service {
	parser := changelog.New(changelog.Fields{
		Status:      cfg.StatusField,
		StoryPoints: cfg.StoryPointsField,
		Sprint:      cfg.SprintField,
	})
	proc := ingest.NewProcessor(store, parser,
		sprints.NewCompiler(log, time.Now),
		sprints.NewReconciler(store, log),
		emitter, rules, log)
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		policies: policies,
		registry: sprints.NewRegistry(store, store, cfg.SprintCacheSize, cfg.StatusCacheSize),
		runner:   ingest.NewRunner(proc, cfg.WorkersIngest, log),
	}
}

type IngestRequest struct {
	Job       domain.FetchJob        `json:"job"`
	Issues    []domain.IssueSnapshot `json:"issues"`
	Reprocess bool                   `json:"reprocess"`
}

type IssueResult struct {
	Key      string                    `json:"key"`
	Decision domain.ProcessingDecision `json:"decision"`
	Error    string                    `json:"error,omitempty"`
}

type IngestResult struct {
	RunID    int64         `json:"run_id"`
	Inserted int           `json:"inserted"`
	Failed   int           `json:"failed"`
	Issues   []IssueResult `json:"issues"`
}

// IngestIssues runs one fetch batch of a (tenant, integration). Failures of
// single issues are reported per issue, not as an error.
func (s *Service) IngestIssues(ctx context.Context, tenant, integrationID string, req IngestRequest) (IngestResult, error) {
	if err := validScope(tenant, integrationID); err != nil {
		return IngestResult{}, err
	}
	for i, iss := range req.Issues {
		if strings.TrimSpace(iss.Key) == "" {
			return IngestResult{}, fmt.Errorf("%w: issue %d has no key", ErrInvalidRequest, i)
		}
	}
	if req.Job.FetchedAt.IsZero() {
		req.Job.FetchedAt = time.Now().UTC()
	}

	pol := s.policies.For(tenant)
	lk, err := s.registry.For(tenant, integrationID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("lookups: %w", err)
	}
	runID, err := s.store.StartIngestRun(ctx, tenant, integrationID, len(req.Issues))
	if err != nil {
		return IngestResult{}, fmt.Errorf("start ingest run: %w", err)
	}
	log := s.log.With().Str("tenant", tenant).Str("integration", integrationID).Int64("run", runID).Logger()
	log.Info().Int("issues", len(req.Issues)).Bool("snapshotting_disabled", pol.SnapshottingDisabled).
		Int64("config_version", pol.ConfigVersion).Msg("ingest: batch started")

	inputs := make([]ingest.Input, len(req.Issues))
	for i, iss := range req.Issues {
		inputs[i] = ingest.Input{
			Tenant:               tenant,
			IntegrationID:        integrationID,
			Job:                  req.Job,
			Snapshot:             iss,
			ConfigVersion:        pol.ConfigVersion,
			SnapshottingDisabled: pol.SnapshottingDisabled,
			SendUpdateEvents:     pol.SendUpdateEvents,
			ForceReprocess:       req.Reprocess,
			Lookups:              lk,
			Policy: sprints.Policy{
				IgnorableIssueTypes:          pol.IgnorableIssueTypes,
				RemovedAtCompletionInclusive: pol.RemovedAtCompletionInclusive,
			},
		}
	}

	res := IngestResult{RunID: runID, Issues: make([]IssueResult, 0, len(inputs))}
	var firstErr string
	for _, o := range s.runner.Run(ctx, inputs) {
		ir := IssueResult{Key: o.Key, Decision: o.Decision}
		if o.Err != nil {
			ir.Error = o.Err.Error()
			res.Failed++
			if firstErr == "" {
				firstErr = ir.Error
			}
		} else if o.Decision.ShouldInsert {
			res.Inserted++
		}
		res.Issues = append(res.Issues, ir)
	}

	// bookkeeping must not be lost to a cancelled request
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.FinishIngestRun(fctx, runID, res.Inserted, res.Failed, res.Failed == 0, firstErr); err != nil {
		log.Error().Err(err).Msg("ingest: finish run")
	}
	log.Info().Int("inserted", res.Inserted).Int("failed", res.Failed).Msg("ingest: batch done")
	return res, nil
}

// IngestSprints stores sprint metadata that is newer than the stored copy and
// refreshes the live caches with it. It returns how many sprints were written.
func (s *Service) IngestSprints(ctx context.Context, tenant, integrationID string, list []domain.SprintMetadata) (int, error) {
	if err := validScope(tenant, integrationID); err != nil {
		return 0, err
	}
	written := 0
	for _, m := range list {
		if strings.TrimSpace(m.SprintID) == "" {
			return written, fmt.Errorf("%w: sprint without id", ErrInvalidRequest)
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = time.Now().UTC()
		}
		ok, err := s.store.UpsertSprint(ctx, tenant, integrationID, m)
		if err != nil {
			return written, fmt.Errorf("upsert sprint %s: %w", m.SprintID, err)
		}
		if !ok {
			s.log.Debug().Str("tenant", tenant).Str("sprint", m.SprintID).Msg("sprint not newer than stored copy")
			continue
		}
		written++
		s.registry.PreloadSprint(tenant, integrationID, m)
	}
	return written, nil
}

func (s *Service) IngestStatuses(ctx context.Context, tenant, integrationID string, cats []domain.StatusCategory) error {
	if err := validScope(tenant, integrationID); err != nil {
		return err
	}
	for _, c := range cats {
		if strings.TrimSpace(c.StatusID) == "" || strings.TrimSpace(c.Category) == "" {
			return fmt.Errorf("%w: status id and category are required", ErrInvalidRequest)
		}
	}
	if err := s.store.UpsertStatusCategories(ctx, tenant, integrationID, cats); err != nil {
		return fmt.Errorf("upsert status categories: %w", err)
	}
	s.registry.Invalidate(tenant, integrationID)
	return nil
}

func (s *Service) CacheStats() []sprints.RegistryStats { return s.registry.Stats() }

// PurgeCaches starts a new cache generation for every (tenant, integration).
func (s *Service) PurgeCaches() int {
	n := s.registry.Purge()
	s.log.Info().Int("dropped", n).Msg("lookup caches purged")
	return n
}

func (s *Service) GetLastRun(ctx context.Context) (*domain.IngestRun, error) {
	return s.store.GetLastRun(ctx)
}

func (s *Service) Policy(tenant string) config.Policy { return s.policies.For(tenant) }

func validScope(tenant, integrationID string) error {
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(integrationID) == "" {
		return fmt.Errorf("%w: tenant and integration are required", ErrInvalidRequest)
	}
	return nil
}
