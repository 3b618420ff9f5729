package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "argus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigParsesRepoAndTuningFields(t *testing.T) {
	path := writeConfig(t, `
repos:
  - platform: github
    owner: argus-dev
    name: demo
default_poll_interval_minutes: 5
max_concurrent_issues: 3
max_coding_iterations: 5
branch_prefix: argus/
dry_run: false
log_level: info
log_format: text
notifier:
  type: webhook
  webhook_url: https://example.invalid/hook
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Repos, 1)
	require.Equal(t, "demo", cfg.Repos[0].Name)
	require.Equal(t, 3, cfg.MaxConcurrentIssues)
	require.Equal(t, "webhook", cfg.Notifier.Type)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := &Config{
		Repos:                      []RepoConfig{{Platform: "github", Owner: "o", Name: "r"}},
		DefaultPollIntervalMinutes: 5,
		MaxConcurrentIssues:        3,
		BranchPrefix:               "argus/",
	}
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Repos, loaded.Repos)
	require.Equal(t, cfg.MaxConcurrentIssues, loaded.MaxConcurrentIssues)
}

func TestRepoDescriptorsFallsBackToDefaultInterval(t *testing.T) {
	cfg := &Config{
		Repos: []RepoConfig{
			{Platform: "github", Owner: "o", Name: "r1"},
			{Platform: "github", Owner: "o", Name: "r2", PollIntervalMinute: 15},
		},
		DefaultPollIntervalMinutes: 5,
	}
	descs := cfg.RepoDescriptors()
	require.Len(t, descs, 2)
	require.Equal(t, 5*time.Minute, descs[0].PollInterval)
	require.Equal(t, 15*time.Minute, descs[1].PollInterval)
	require.Equal(t, domain.PlatformGitHub, descs[0].Platform)
}

func TestOrchestratorConfigMapsTuningKnobs(t *testing.T) {
	cfg := &Config{
		MaxConcurrentIssues:        4,
		MaxCodingIterations:        6,
		DefaultPollIntervalMinutes: 10,
		BranchPrefix:               "bot/",
		DryRun:                     true,
		StuckAfterMinutes:          60,
	}
	oc := cfg.OrchestratorConfig()
	require.Equal(t, 4, oc.MaxConcurrentIssues)
	require.Equal(t, 6, oc.MaxCodingIterations)
	require.Equal(t, 10*time.Minute, oc.DefaultPollInterval)
	require.True(t, oc.DryRun)
	require.Equal(t, time.Hour, oc.StuckAfter)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "max_concurrent_issues: 1\n")

	changes := make(chan *Config, 1)
	w, err := Watch(path, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_issues: 7\n"), 0o600))

	select {
	case cfg := <-changes:
		require.Equal(t, 7, cfg.MaxConcurrentIssues)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}
}
