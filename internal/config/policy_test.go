package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYAML = `
defaults:
  config_version: 7
  send_update_events: false
tenants:
  acme:
    snapshotting_disabled: true
    config_version: 123
    ignorable_issue_types: [SUB-TASK, Epic]
  globex:
    send_update_events: true
    removed_at_completion_inclusive: true
`

func TestPolicies_For(t *testing.T) {
	p, err := ParsePolicies([]byte(policyYAML))
	require.NoError(t, err)

	assert.Equal(t, Policy{
		SnapshottingDisabled: true,
		ConfigVersion:        123,
		IgnorableIssueTypes:  []string{"SUB-TASK", "Epic"},
	}, p.For("acme"))

	assert.Equal(t, Policy{
		ConfigVersion:                7,
		IgnorableIssueTypes:          []string{"SUB-TASK"},
		SendUpdateEvents:             true,
		RemovedAtCompletionInclusive: true,
	}, p.For("globex"))

	assert.Equal(t, Policy{ConfigVersion: 7, IgnorableIssueTypes: []string{"SUB-TASK"}}, p.For("unknown"))
}

func TestPolicies_ForReturnsCopies(t *testing.T) {
	p, err := ParsePolicies([]byte(policyYAML))
	require.NoError(t, err)
	got := p.For("unknown")
	got.IgnorableIssueTypes[0] = "changed"
	assert.Equal(t, []string{"SUB-TASK"}, p.For("unknown").IgnorableIssueTypes)
}

func TestParsePolicies_RejectsUnknownKeys(t *testing.T) {
	_, err := ParsePolicies([]byte("defaults:\n  snapshoting_disabled: true\n"))
	require.Error(t, err)
}

func TestLoadPolicies(t *testing.T) {
	p, err := LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SUB-TASK"}, p.For("any").IgnorableIssueTypes)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))
	p, err = LoadPolicies(path)
	require.NoError(t, err)
	assert.True(t, p.For("acme").SnapshottingDisabled)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	p, err = LoadPolicies(empty)
	require.NoError(t, err)
	assert.Equal(t, builtinPolicy(), p.For("any"))
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WORKERS_INGEST", "3")
	t.Setenv("SPRINT_CACHE_SIZE", "not-a-number")
	t.Setenv("TELEGRAM_CHAT_IDS", "10, -20,x")
	t.Setenv("HTTP_TIMEOUT", "2s")
	t.Setenv("APP_TZ", "UTC")

	cfg := Load()
	assert.Equal(t, 3, cfg.WorkersIngest)
	assert.Equal(t, 10000, cfg.SprintCacheSize)
	assert.Equal(t, []int64{10, -20}, cfg.TelegramChatIDs)
	assert.Equal(t, "2s", cfg.HTTPTimeout.String())
	assert.Equal(t, "Sprint", cfg.SprintField)
}
