package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/changelog"
	"github.com/linuxautomates/gitsei-sub041/internal/domain"
	"github.com/linuxautomates/gitsei-sub041/internal/sprints"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func tp(sec int64) *time.Time {
	t := ts(sec)
	return &t
}

func i64(v int64) *int64 { return &v }

type issueKey struct {
	tenant, integ, key string
	asOf               int64
}

type fakeIssueStore struct {
	mu        sync.Mutex
	issues    map[issueKey]domain.StoredIssue
	inserts   int
	getErr    error
	insertErr error
	countErr  error
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{issues: map[issueKey]domain.StoredIssue{}}
}

func (f *fakeIssueStore) put(tenant string, iss domain.StoredIssue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[issueKey{tenant, iss.IntegrationID, iss.Key, iss.IngestedAt.Unix()}] = iss
}

func (f *fakeIssueStore) GetIssue(ctx context.Context, tenant, key, integrationID string, asOf time.Time) (domain.StoredIssue, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.StoredIssue{}, false, f.getErr
	}
	iss, ok := f.issues[issueKey{tenant, integrationID, key, asOf.Unix()}]
	return iss, ok, nil
}

func (f *fakeIssueStore) InsertIssue(ctx context.Context, tenant string, iss domain.StoredIssue) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserts++
	if iss.ID == "" {
		iss.ID = fmt.Sprintf("i%d", f.inserts)
	}
	f.issues[issueKey{tenant, iss.IntegrationID, iss.Key, iss.IngestedAt.Unix()}] = iss
	return iss.ID, nil
}

func (f *fakeIssueStore) CountIssueRevisions(ctx context.Context, tenant, integrationID, key string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for k := range f.issues {
		if k.tenant == tenant && k.integ == integrationID && k.key == key {
			n++
		}
	}
	if n > limit {
		n = limit
	}
	return n, nil
}

func (f *fakeIssueStore) get(tenant, integ, key string, asOf time.Time) (domain.StoredIssue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iss, ok := f.issues[issueKey{tenant, integ, key, asOf.Unix()}]
	return iss, ok
}

type fakeMappings struct {
	mu      sync.Mutex
	records map[string]domain.SprintMembershipRecord // by sprint id
	writes  int
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{records: map[string]domain.SprintMembershipRecord{}}
}

func (f *fakeMappings) UpsertSprintMapping(ctx context.Context, tenant string, rec domain.SprintMembershipRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	rec.ID = "m-" + rec.SprintID
	f.records[rec.SprintID] = rec
	return nil
}

func (f *fakeMappings) DeleteSprintMapping(ctx context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	for sid, r := range f.records {
		if r.ID == id {
			delete(f.records, sid)
		}
	}
	return nil
}

func (f *fakeMappings) StreamSprintMappings(ctx context.Context, tenant string, flt sprints.MappingFilter, fn func(domain.SprintMembershipRecord) error) error {
	f.mu.Lock()
	var match []domain.SprintMembershipRecord
	for _, r := range f.records {
		if r.IssueKey == flt.IssueKey {
			match = append(match, r)
		}
	}
	f.mu.Unlock()
	for _, r := range match {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMappings) sprintIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for id := range f.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type emitted struct {
	tenant  string
	typ     domain.EventType
	payload map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (f *fakeEmitter) Emit(ctx context.Context, tenant string, t domain.EventType, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, emitted{tenant, t, payload})
	return nil
}

type fakeRules struct {
	calls int
	err   error
}

func (f *fakeRules) ScanWithRules(ctx context.Context, tenant, key string, payload map[string]any) error {
	f.calls++
	return f.err
}

type sprintMap map[string]domain.SprintMetadata

func (m sprintMap) Sprint(ctx context.Context, id string) (domain.SprintMetadata, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

type categoryMap map[string]string

func (m categoryMap) Category(ctx context.Context, id string) (string, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

var errStore = errors.New("store unavailable")

type harness struct {
	issues   *fakeIssueStore
	mappings *fakeMappings
	emitter  *fakeEmitter
	rules    *fakeRules
	proc     *Processor
}

func newHarness() *harness {
	h := &harness{
		issues:   newFakeIssueStore(),
		mappings: newFakeMappings(),
		emitter:  &fakeEmitter{},
		rules:    &fakeRules{},
	}
	now := func() time.Time { return ts(1000) }
	h.proc = NewProcessor(
		h.issues,
		changelog.New(changelog.DefaultFields()),
		sprints.NewCompiler(zerolog.Nop(), now),
		sprints.NewReconciler(h.mappings, zerolog.Nop()),
		h.emitter,
		h.rules,
		zerolog.Nop(),
	)
	return h
}
