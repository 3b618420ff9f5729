// Package config loads and hot-reloads Argus's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/pipeline"
)

// RepoConfig names one repository to watch and its own poll cadence.
type RepoConfig struct {
	Platform           string `yaml:"platform"`
	Owner              string `yaml:"owner"`
	Name               string `yaml:"name"`
	PollIntervalMinute int    `yaml:"poll_interval_minutes,omitempty"`
}

// NotifierConfig selects and configures the notification transport.
type NotifierConfig struct {
	Type       string `yaml:"type"` // "webhook", "slack", "none"
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// Config is Argus's top-level configuration file (spec §5, §6).
type Config struct {
	Repos []RepoConfig `yaml:"repos"`

	DefaultPollIntervalMinutes int  `yaml:"default_poll_interval_minutes"`
	MaxConcurrentIssues        int  `yaml:"max_concurrent_issues"`
	MaxCodingIterations        int  `yaml:"max_coding_iterations"`
	StuckAfterMinutes          int  `yaml:"stuck_after_minutes,omitempty"`
	BranchPrefix               string `yaml:"branch_prefix"`
	DryRun                     bool `yaml:"dry_run"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	AnthropicModel string `yaml:"anthropic_model,omitempty"`

	Notifier NotifierConfig `yaml:"notifier"`
}

// LoadConfig reads and parses the YAML configuration at filename.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename) //nolint:gosec // filename comes from the --config flag
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to filename as YAML.
func SaveConfig(filename string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", filename, err)
	}
	return nil
}

// RepoDescriptors converts the configured repo list into the domain type the
// orchestrator polls.
func (c *Config) RepoDescriptors() []domain.RepoDescriptor {
	out := make([]domain.RepoDescriptor, 0, len(c.Repos))
	for _, r := range c.Repos {
		interval := time.Duration(r.PollIntervalMinute) * time.Minute
		if interval <= 0 {
			interval = time.Duration(c.DefaultPollIntervalMinutes) * time.Minute
		}
		platform := domain.PlatformGitHub
		if r.Platform == string(domain.PlatformGitLab) {
			platform = domain.PlatformGitLab
		}
		out = append(out, domain.RepoDescriptor{
			Platform:     platform,
			Owner:        r.Owner,
			Name:         r.Name,
			PollInterval: interval,
		})
	}
	return out
}

// OrchestratorConfig converts the file's tuning knobs into the orchestrator's
// runtime config.
func (c *Config) OrchestratorConfig() pipeline.OrchestratorConfig {
	return pipeline.OrchestratorConfig{
		MaxConcurrentIssues: c.MaxConcurrentIssues,
		MaxCodingIterations: c.MaxCodingIterations,
		DefaultPollInterval: time.Duration(c.DefaultPollIntervalMinutes) * time.Minute,
		BranchPrefix:        c.BranchPrefix,
		DryRun:              c.DryRun,
		StuckAfter:          time.Duration(c.StuckAfterMinutes) * time.Minute,
	}
}

// Watcher hot-reloads a config file on write, per the operator's edit rather
// than a restart (spec's ambient config stack).
type Watcher struct {
	watcher *fsnotify.Watcher
}

// Watch starts watching filename and invokes onChange with the freshly
// reloaded config every time it's written. onChange errors are not fatal:
// a bad edit is logged by the caller and the previous config keeps running.
func Watch(filename string, onChange func(*Config, error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(filename); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filename, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) {
					continue
				}
				cfg, err := LoadConfig(filename)
				onChange(cfg, err)
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &Watcher{watcher: w}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
