package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/handlers"
	"github.com/argus-dev/argus/internal/pipeline"
	"github.com/argus-dev/argus/internal/security"
)

func newRunCmd(configFile *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start polling configured repositories and acting on their issues",
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runAgent(cobraCmd.Context(), *configFile, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate and investigate issues but never push branches or open pull requests")
	return cmd
}

func runAgent(ctx context.Context, configFile string, dryRun bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if dryRun {
		cfg.DryRun = true
	}

	st, err := openStore(configFile)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	keys, err := openKeys(ctx, st)
	if err != nil {
		if errors.Is(err, crypto.ErrNoIdentity) {
			return fmt.Errorf("%w (run `argus rotate-key --init` first)", err)
		}
		return err
	}
	nonces := crypto.NewNonceRegistry()
	stamps := crypto.NewStampManager(keys, nonces)

	auditLog, err := audit.Open(ctx, st, keys)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	forge, err := buildForge(ctx)
	if err != nil {
		return err
	}
	llm := buildLLM(cfg)
	if llm == nil {
		slog.Warn("no ANTHROPIC_API_KEY configured; issue evaluation will fail open and mark issues stuck")
	}
	notifier := buildNotifier(cfg)

	evaluator := pipeline.NewEvaluator(llm, forge)
	investigator := pipeline.NewInvestigator(llm, forge)
	coder := pipeline.NewCoder(llm, forge, auditLog)
	editDetector := pipeline.NewEditDetector(forge)

	classifier := security.NewClassifier(llm)
	commentHandler := handlers.NewCommentHandler(forge, classifier, stamps, auditLog)
	chainDetector := handlers.NewChainDetector(forge, stamps, auditLog)
	analyzer := handlers.NewAnalyzer(forge, llm, stamps)
	synthesis := handlers.NewSynthesisPlanner(forge, llm, stamps, auditLog)

	orch := pipeline.NewOrchestrator(
		forge, notifier, auditLog, stamps,
		evaluator, investigator, coder, editDetector,
		commentHandler, chainDetector, analyzer, synthesis,
		cfg.OrchestratorConfig(),
	)

	watcher, err := watchConfig(configFile, cfg.DryRun)
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("argus starting", "repos", len(cfg.Repos), "dry_run", cfg.DryRun, "instance_id", keys.InstanceID())
	return orch.Run(runCtx, cfg.RepoDescriptors())
}
