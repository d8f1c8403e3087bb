package sprints

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func tp(sec int64) *time.Time {
	t := ts(sec)
	return &t
}

type fakeSprintStore struct {
	mu     sync.Mutex
	sprint map[string]domain.SprintMetadata
	calls  int
	err    error
}

func (f *fakeSprintStore) GetSprint(ctx context.Context, tenant, integrationID, sprintID string) (domain.SprintMetadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.SprintMetadata{}, false, f.err
	}
	m, ok := f.sprint[sprintID]
	return m, ok, nil
}

type fakeStatusStore map[string]string

func (f fakeStatusStore) GetStatusCategory(ctx context.Context, tenant, integrationID, statusID string) (string, bool, error) {
	c, ok := f[statusID]
	return c, ok, nil
}

// staticLookups skips caching so tests can read compiler behaviour directly.
func staticLookups(sprints map[string]domain.SprintMetadata, cats map[string]string) Lookups {
	return Lookups{
		Sprints:  metaMap(sprints),
		Statuses: catMap(cats),
	}
}

type metaMap map[string]domain.SprintMetadata

func (m metaMap) Sprint(ctx context.Context, id string) (domain.SprintMetadata, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

type catMap map[string]string

func (m catMap) Category(ctx context.Context, id string) (string, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

type fakeMappingStore struct {
	mu      sync.Mutex
	records map[string]domain.SprintMembershipRecord // by id
	seq     int
	upserts int
	deletes int
	failOn  string
}

func newFakeMappingStore() *fakeMappingStore {
	return &fakeMappingStore{records: map[string]domain.SprintMembershipRecord{}}
}

func (f *fakeMappingStore) UpsertSprintMapping(ctx context.Context, tenant string, rec domain.SprintMembershipRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "upsert" {
		return fmt.Errorf("write failed")
	}
	f.upserts++
	for id, r := range f.records {
		if r.IntegrationID == rec.IntegrationID && r.IssueKey == rec.IssueKey && r.SprintID == rec.SprintID {
			rec.ID = id
			f.records[id] = rec
			return nil
		}
	}
	f.seq++
	rec.ID = fmt.Sprintf("m%d", f.seq)
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeMappingStore) DeleteSprintMapping(ctx context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "delete" {
		return fmt.Errorf("delete failed")
	}
	f.deletes++
	delete(f.records, id)
	return nil
}

func (f *fakeMappingStore) StreamSprintMappings(ctx context.Context, tenant string, flt MappingFilter, fn func(domain.SprintMembershipRecord) error) error {
	f.mu.Lock()
	var match []domain.SprintMembershipRecord
	for _, r := range f.records {
		if r.IssueKey != flt.IssueKey || !contains(flt.IntegrationIDs, r.IntegrationID) {
			continue
		}
		if len(flt.SprintIDs) > 0 && !contains(flt.SprintIDs, r.SprintID) {
			continue
		}
		match = append(match, r)
	}
	f.mu.Unlock()
	sort.Slice(match, func(i, j int) bool { return match[i].SprintID < match[j].SprintID })
	for _, r := range match {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMappingStore) sprintIDs(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.records {
		if r.IssueKey == key {
			out = append(out, r.SprintID)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
