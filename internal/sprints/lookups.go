/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package sprints

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/linuxautomates/gitsei-sub041/internal/cache"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

// SprintStore reads sprint lifecycle dates.
type SprintStore interface {
	GetSprint(ctx context.Context, tenant, integrationID, sprintID string) (domain.SprintMetadata, bool, error)
}

// StatusStore reads the status category ("TO DO", "IN PROGRESS", "DONE") of a
// tracker status id.
type StatusStore interface {
	GetStatusCategory(ctx context.Context, tenant, integrationID, statusID string) (string, bool, error)
}

// MetadataSource is what the compiler needs from the sprint resolver.
type MetadataSource interface {
	Sprint(ctx context.Context, sprintID string) (domain.SprintMetadata, bool, error)
}

// StatusCategories resolves a status id to its category.
type StatusCategories interface {
	Category(ctx context.Context, statusID string) (string, bool, error)
}

// MetadataResolver is the read-through sprint cache of one (tenant, integration).
type MetadataResolver struct {
	c *cache.Loading[domain.SprintMetadata]
}

func NewMetadataResolver(store SprintStore, tenant, integrationID string, size int) (*MetadataResolver, error) {
	c, err := cache.New[domain.SprintMetadata](size, func(ctx context.Context, sprintID string) (domain.SprintMetadata, bool, error) {
		return store.GetSprint(ctx, tenant, integrationID, sprintID)
	})
	if err != nil {
		return nil, fmt.Errorf("sprint resolver: %w", err)
	}
	return &MetadataResolver{c: c}, nil
}

func (r *MetadataResolver) Sprint(ctx context.Context, sprintID string) (domain.SprintMetadata, bool, error) {
	return r.c.Get(ctx, sprintID)
}

func (r *MetadataResolver) Preload(m domain.SprintMetadata) { r.c.Preload(m.SprintID, m, true) }

type StatusResolver struct {
	c *cache.Loading[string]
}

func NewStatusResolver(store StatusStore, tenant, integrationID string, size int) (*StatusResolver, error) {
	c, err := cache.New[string](size, func(ctx context.Context, statusID string) (string, bool, error) {
		return store.GetStatusCategory(ctx, tenant, integrationID, statusID)
	})
	if err != nil {
		return nil, fmt.Errorf("status resolver: %w", err)
	}
	return &StatusResolver{c: c}, nil
}

func (r *StatusResolver) Category(ctx context.Context, statusID string) (string, bool, error) {
	return r.c.Get(ctx, statusID)
}

// Lookups bundles the shared caches used while processing one fetch batch.
type Lookups struct {
	Sprints  MetadataSource
	Statuses StatusCategories
}

type registryKey struct{ tenant, integrationID string }

type registryEntry struct {
	sprints  *MetadataResolver
	statuses *StatusResolver
}

// Registry hands out one Lookups per (tenant, integration) and lets the owner
// drop them all, which starts a new cache generation for the next batch.
type Registry struct {
	sprintStore SprintStore
	statusStore StatusStore
	sprintSize  int
	statusSize  int

	mu      sync.Mutex
	entries map[registryKey]registryEntry
}

func NewRegistry(sprintStore SprintStore, statusStore StatusStore, sprintSize, statusSize int) *Registry {
	return &Registry{
		sprintStore: sprintStore,
		statusStore: statusStore,
		sprintSize:  sprintSize,
		statusSize:  statusSize,
		entries:     map[registryKey]registryEntry{},
	}
}

func (r *Registry) For(tenant, integrationID string) (Lookups, error) {
	k := registryKey{tenant, integrationID}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		sp, err := NewMetadataResolver(r.sprintStore, tenant, integrationID, r.sprintSize)
		if err != nil {
			return Lookups{}, err
		}
		st, err := NewStatusResolver(r.statusStore, tenant, integrationID, r.statusSize)
		if err != nil {
			return Lookups{}, err
		}
		e = registryEntry{sprints: sp, statuses: st}
		r.entries[k] = e
	}
	return Lookups{Sprints: e.sprints, Statuses: e.statuses}, nil
}

// Purge forgets every cache and returns how many (tenant, integration) pairs
// were dropped.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	r.entries = map[registryKey]registryEntry{}
	return n
}

// PreloadSprint refreshes a sprint in the live cache of (tenant,
// integration), if there is one.
func (r *Registry) PreloadSprint(tenant, integrationID string, m domain.SprintMetadata) {
	r.mu.Lock()
	e, ok := r.entries[registryKey{tenant, integrationID}]
	r.mu.Unlock()
	if ok {
		e.sprints.Preload(m)
	}
}

// Invalidate drops the caches of one (tenant, integration).
func (r *Registry) Invalidate(tenant, integrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, registryKey{tenant, integrationID})
}

type RegistryStats struct {
	Tenant        string      `json:"tenant"`
	IntegrationID string      `json:"integration_id"`
	Sprints       cache.Stats `json:"sprints"`
	Statuses      cache.Stats `json:"statuses"`
}

func (r *Registry) Stats() []RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RegistryStats, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, RegistryStats{
			Tenant:        k.tenant,
			IntegrationID: k.integrationID,
			Sprints:       e.sprints.c.Stats(),
			Statuses:      e.statuses.c.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant == out[j].Tenant {
			return out[i].IntegrationID < out[j].IntegrationID
		}
		return out[i].Tenant < out[j].Tenant
	})
	return out
}
