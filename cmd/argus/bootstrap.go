package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/argus-dev/argus/internal/config"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/forge/github"
	"github.com/argus-dev/argus/internal/llmclient"
	"github.com/argus-dev/argus/internal/notify"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/store"
)

// storeDir resolves the on-disk home for the agent's persistent state,
// rooted next to the config file unless overridden.
func storeDir(configFile string) string {
	if dir := os.Getenv("ARGUS_STATE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(filepath.Dir(configFile), ".argus")
}

// openStore builds the FileStore every command shares, so the instance
// identity, signing key, audit log and nonce registry all survive restarts.
func openStore(configFile string) (ports.Store, error) {
	return store.NewFileStore(storeDir(configFile))
}

// openKeys loads the agent's cryptographic identity. It returns
// crypto.ErrNoIdentity verbatim when none has been initialized, so callers
// can point the operator at `argus rotate-key --init`.
func openKeys(ctx context.Context, st ports.Store) (*crypto.KeyManager, error) {
	return crypto.NewKeyManager(ctx, st)
}

// buildForge constructs the GitHub adapter from the GITHUB_TOKEN
// environment variable; Argus refuses to poll without one.
func buildForge(ctx context.Context) (ports.Forge, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is required to talk to the forge")
	}
	return github.NewClient(ctx, token), nil
}

// buildLLM constructs the Anthropic-backed LLM adapter. A missing API key
// is not fatal at startup: evaluation simply fails open per spec §4.2, so
// operators can dry-run the agent's polling and chain-detection behavior
// without burning API credits.
func buildLLM(cfg *config.Config) ports.LLM {
	model := cfg.AnthropicModel
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	client, err := llmclient.New("", model)
	if err != nil {
		return nil
	}
	return client
}

// buildNotifier constructs the configured notification transport.
func buildNotifier(cfg *config.Config) ports.Notifier {
	if cfg.Notifier.Type == "webhook" && cfg.Notifier.WebhookURL != "" {
		return notify.NewWebhook(cfg.Notifier.WebhookURL)
	}
	return notify.None{}
}

// loadConfig is a thin wrapper so subcommands share one error message shape.
func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", configFile, err)
	}
	return cfg, nil
}

// watchConfig logs edits to the running config file. Tuning knobs like poll
// interval and concurrency are read fresh by whichever step touches them
// next; adding or removing a watched repository still needs a restart, so
// the operator is told as much rather than silently ignored.
func watchConfig(configFile string, dryRunOverride bool) (*config.Watcher, error) {
	return config.Watch(configFile, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Warn("config reload failed, keeping previous settings", "error", err)
			return
		}
		if dryRunOverride {
			cfg.DryRun = true
		}
		slog.Info("config reloaded", "repos", len(cfg.Repos),
			"note", "repository list changes require a restart to take effect")
	})
}
