package sprints

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxautomates/gitsei-sub041/internal/domain"
)

func rec(sprintID string, addedAt int64, planned bool) domain.SprintMembershipRecord {
	return domain.SprintMembershipRecord{
		IntegrationID: "1",
		IssueKey:      "DEVTEST-1",
		SprintID:      sprintID,
		AddedAt:       ts(addedAt),
		Planned:       planned,
	}
}

func TestReconcile_DeletesExcludedAndUpsertsRest(t *testing.T) {
	store := newFakeMappingStore()
	ctx := context.Background()
	for _, r := range []domain.SprintMembershipRecord{rec("67", 100, true), rec("74", 200, false), rec("80", 300, false)} {
		require.NoError(t, store.UpsertSprintMapping(ctx, "test", r))
	}
	store.upserts = 0

	r := NewReconciler(store, zerolog.Nop())
	res, err := r.Reconcile(ctx, "test", "1", "DEVTEST-1", domain.CompiledSprintEvents{
		Upserts:  []domain.SprintMembershipRecord{rec("74", 456, false), rec("90", 500, true)},
		Excluded: []string{"67"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Deleted: 1, Upserted: 2}, res)
	// sprint 80 was not part of the compiled output and is left alone
	assert.Equal(t, []string{"74", "80", "90"}, store.sprintIDs("DEVTEST-1"))
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store := newFakeMappingStore()
	r := NewReconciler(store, zerolog.Nop())
	compiled := domain.CompiledSprintEvents{
		Upserts:  []domain.SprintMembershipRecord{rec("67", 199, true), rec("74", 456, false)},
		Excluded: []string{"12"},
	}

	first, err := r.Reconcile(context.Background(), "test", "1", "DEVTEST-1", compiled)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Upserted)

	second, err := r.Reconcile(context.Background(), "test", "1", "DEVTEST-1", compiled)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Unchanged: 2}, second)
	assert.Equal(t, 2, store.upserts)
	assert.Equal(t, []string{"67", "74"}, store.sprintIDs("DEVTEST-1"))
}

func TestReconcile_OnlyTouchesItsIssue(t *testing.T) {
	store := newFakeMappingStore()
	other := rec("67", 100, true)
	other.IssueKey = "DEVTEST-2"
	require.NoError(t, store.UpsertSprintMapping(context.Background(), "test", other))

	r := NewReconciler(store, zerolog.Nop())
	res, err := r.Reconcile(context.Background(), "test", "1", "DEVTEST-1", domain.CompiledSprintEvents{Excluded: []string{"67"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, []string{"67"}, store.sprintIDs("DEVTEST-2"))
}

func TestReconcile_Errors(t *testing.T) {
	ctx := context.Background()
	compiled := domain.CompiledSprintEvents{
		Upserts:  []domain.SprintMembershipRecord{rec("74", 456, false)},
		Excluded: []string{"67"},
	}

	t.Run("blank key", func(t *testing.T) {
		_, err := NewReconciler(newFakeMappingStore(), zerolog.Nop()).Reconcile(ctx, "test", "1", " ", compiled)
		require.Error(t, err)
	})

	t.Run("delete failure", func(t *testing.T) {
		store := newFakeMappingStore()
		require.NoError(t, store.UpsertSprintMapping(ctx, "test", rec("67", 1, false)))
		store.failOn = "delete"
		_, err := NewReconciler(store, zerolog.Nop()).Reconcile(ctx, "test", "1", "DEVTEST-1", compiled)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "delete failed")
	})

	t.Run("upsert failure", func(t *testing.T) {
		store := newFakeMappingStore()
		store.failOn = "upsert"
		_, err := NewReconciler(store, zerolog.Nop()).Reconcile(ctx, "test", "1", "DEVTEST-1", compiled)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write failed")
	})
}

func TestReconcile_NothingToDo(t *testing.T) {
	store := newFakeMappingStore()
	res, err := NewReconciler(store, zerolog.Nop()).Reconcile(context.Background(), "test", "1", "K", domain.CompiledSprintEvents{})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{}, res)
}
