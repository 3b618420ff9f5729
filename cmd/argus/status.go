package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/domain"
)

func newStatusCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent recorded action per tracked issue",
		Long: `Reconstructs a per-issue view from the audit log: since a restarted
agent loses its in-memory tracked-issue table, this is the durable record
of what Argus last did, and when, for every issue it has touched.`,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runStatus(cobraCmd.Context(), *configFile)
		},
	}
}

func runStatus(ctx context.Context, configFile string) error {
	st, err := openStore(configFile)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	keys, err := openKeys(ctx, st)
	if err != nil {
		return err
	}

	log, err := audit.Open(ctx, st, keys)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	entries, err := log.All(ctx)
	if err != nil {
		return fmt.Errorf("reading audit entries: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No recorded actions yet.")
		return nil
	}

	latest := latestByTarget(entries)

	rows := make([]domain.AuditEntry, 0, len(latest))
	for _, e := range latest {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Target < rows[j].Target })

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Repo", "Issue/PR", "Last Action", "Decision", "When"})
	for _, e := range rows {
		tw.AppendRow(table.Row{e.Repo, e.Target, e.ActionKind, e.Decision, e.Timestamp.Format(time.RFC3339)})
	}
	tw.Render()

	if km, err := openKeys(ctx, st); err == nil && km.RecommendRotation(30*24*time.Hour) {
		fmt.Println("\nsigning key is over 30 days old; consider `argus rotate-key`")
	}

	return nil
}

// latestByTarget keeps only the most recent entry per tracked issue/PR key.
func latestByTarget(entries []domain.AuditEntry) map[string]domain.AuditEntry {
	latest := make(map[string]domain.AuditEntry, len(entries))
	for _, e := range entries {
		cur, ok := latest[e.Target]
		if !ok || e.Timestamp.After(cur.Timestamp) {
			latest[e.Target] = e
		}
	}
	return latest
}
