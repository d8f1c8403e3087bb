package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

// memStore keeps everything in maps keyed by joined strings.
type memStore struct {
	mu         sync.Mutex
	issues     map[string]domain.StoredIssue
	sprintRows map[string]domain.SprintMetadata
	statuses   map[string]string
	mappings   map[string]domain.SprintMembershipRecord
	runs       []domain.IngestRun
	sprintGets int
	seq        int
}

func newMemStore() *memStore {
	return &memStore{
		issues:     map[string]domain.StoredIssue{},
		sprintRows: map[string]domain.SprintMetadata{},
		statuses:   map[string]string{},
		mappings:   map[string]domain.SprintMembershipRecord{},
	}
}

func k(parts ...any) string { return fmt.Sprint(parts...) }

func (m *memStore) GetIssue(ctx context.Context, tenant, key, integrationID string, asOf time.Time) (domain.StoredIssue, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iss, ok := m.issues[k(tenant, "|", integrationID, "|", key, "|", asOf.Unix())]
	return iss, ok, nil
}

func (m *memStore) InsertIssue(ctx context.Context, tenant string, iss domain.StoredIssue) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if iss.ID == "" {
		m.seq++
		iss.ID = fmt.Sprintf("issue-%d", m.seq)
	}
	m.issues[k(tenant, "|", iss.IntegrationID, "|", iss.Key, "|", iss.IngestedAt.Unix())] = iss
	return iss.ID, nil
}

func (m *memStore) CountIssueRevisions(ctx context.Context, tenant, integrationID, key string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, iss := range m.issues {
		if iss.IntegrationID == integrationID && iss.Key == key {
			n++
		}
	}
	if n > limit {
		n = limit
	}
	return n, nil
}

func (m *memStore) GetSprint(ctx context.Context, tenant, integrationID, sprintID string) (domain.SprintMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sprintGets++
	s, ok := m.sprintRows[k(tenant, "|", integrationID, "|", sprintID)]
	return s, ok, nil
}

func (m *memStore) UpsertSprint(ctx context.Context, tenant, integrationID string, s domain.SprintMetadata) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := k(tenant, "|", integrationID, "|", s.SprintID)
	if prev, ok := m.sprintRows[key]; ok && !prev.UpdatedAt.Before(s.UpdatedAt) {
		return false, nil
	}
	m.sprintRows[key] = s
	return true, nil
}

func (m *memStore) GetStatusCategory(ctx context.Context, tenant, integrationID, statusID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.statuses[k(tenant, "|", integrationID, "|", statusID)]
	return c, ok, nil
}

func (m *memStore) UpsertStatusCategories(ctx context.Context, tenant, integrationID string, cats []domain.StatusCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cats {
		m.statuses[k(tenant, "|", integrationID, "|", c.StatusID)] = c.Category
	}
	return nil
}

func (m *memStore) UpsertSprintMapping(ctx context.Context, tenant string, rec domain.SprintMembershipRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := k(tenant, "|", rec.IntegrationID, "|", rec.IssueKey, "|", rec.SprintID)
	rec.ID = key
	m.mappings[key] = rec
	return nil
}

func (m *memStore) DeleteSprintMapping(ctx context.Context, tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, id)
	return nil
}

func (m *memStore) StreamSprintMappings(ctx context.Context, tenant string, f sprints.MappingFilter, fn func(domain.SprintMembershipRecord) error) error {
	m.mu.Lock()
	var out []domain.SprintMembershipRecord
	for _, r := range m.mappings {
		if r.IssueKey == f.IssueKey {
			out = append(out, r)
		}
	}
	m.mu.Unlock()
	for _, r := range out {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) StartIngestRun(ctx context.Context, tenant, integrationID string, scanned int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.runs) + 1)
	m.runs = append(m.runs, domain.IngestRun{ID: id, Tenant: tenant, IntegrationID: integrationID, IssuesScanned: scanned, StartedAt: time.Now()})
	return id, nil
}

func (m *memStore) FinishIngestRun(ctx context.Context, id int64, inserted, failed int, success bool, errStr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &m.runs[id-1]
	now := time.Now()
	r.FinishedAt, r.IssuesInserted, r.IssuesFailed, r.Success, r.Error = &now, inserted, failed, success, errStr
	return nil
}

func (m *memStore) GetLastRun(ctx context.Context) (*domain.IngestRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	r := m.runs[len(m.runs)-1]
	return &r, nil
}
