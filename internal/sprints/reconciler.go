/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package sprints

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

// MappingFilter selects persisted membership records. Empty SprintIDs means
// every sprint of the issue.
type MappingFilter struct {
	IntegrationIDs []string
	IssueKey       string
	SprintIDs      []string
}

type MappingStore interface {
	UpsertSprintMapping(ctx context.Context, tenant string, rec domain.SprintMembershipRecord) error
	DeleteSprintMapping(ctx context.Context, tenant, id string) error
	StreamSprintMappings(ctx context.Context, tenant string, f MappingFilter, fn func(domain.SprintMembershipRecord) error) error
}

type Reconciler struct {
	store MappingStore
	log   zerolog.Logger
}

func NewReconciler(store MappingStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log}
}

type ReconcileResult struct {
	Deleted   int
	Upserted  int
	Unchanged int
}

// Reconcile deletes the issue's records for excluded sprints and upserts the
// compiled ones. Records of sprints absent from compiled are left alone.
func (r *Reconciler) Reconcile(ctx context.Context, tenant, integrationID, issueKey string, compiled domain.CompiledSprintEvents) (ReconcileResult, error) {
	var res ReconcileResult
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(integrationID) == "" || strings.TrimSpace(issueKey) == "" {
		return res, fmt.Errorf("reconcile: tenant, integration and issue key are required")
	}
	if len(compiled.Excluded) == 0 && len(compiled.Upserts) == 0 {
		return res, nil
	}

	ids := make([]string, 0, len(compiled.Excluded)+len(compiled.Upserts))
	ids = append(ids, compiled.Excluded...)
	for _, rec := range compiled.Upserts {
		ids = append(ids, rec.SprintID)
	}
	existing := map[string]domain.SprintMembershipRecord{}
	var toDelete []string
	err := r.store.StreamSprintMappings(ctx, tenant, MappingFilter{
		IntegrationIDs: []string{integrationID},
		IssueKey:       issueKey,
		SprintIDs:      ids,
	}, func(rec domain.SprintMembershipRecord) error {
		if compiled.IsExcluded(rec.SprintID) {
			toDelete = append(toDelete, rec.ID)
			return nil
		}
		existing[rec.SprintID] = rec
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("stream sprint mappings: %w", err)
	}

	log := r.log.With().Str("tenant", tenant).Str("integration", integrationID).Str("key", issueKey).Logger()
	if len(toDelete) > 0 {
		log.Debug().Strs("sprints", compiled.Excluded).Strs("ids", toDelete).Msg("deleting excluded sprint mappings")
	}
	for _, id := range toDelete {
		if err := r.store.DeleteSprintMapping(ctx, tenant, id); err != nil {
			return res, fmt.Errorf("delete sprint mapping %s: %w", id, err)
		}
		res.Deleted++
	}

	for _, rec := range compiled.Upserts {
		if strings.TrimSpace(rec.SprintID) == "" || compiled.IsExcluded(rec.SprintID) {
			continue
		}
		if prev, ok := existing[rec.SprintID]; ok && prev.SameContent(rec) {
			res.Unchanged++
			continue
		}
		if err := r.store.UpsertSprintMapping(ctx, tenant, rec); err != nil {
			return res, fmt.Errorf("upsert sprint mapping %s: %w", rec.SprintID, err)
		}
		res.Upserted++
	}
	log.Debug().Int("deleted", res.Deleted).Int("upserted", res.Upserted).Int("unchanged", res.Unchanged).Msg("sprint mappings reconciled")
	return res, nil
}
