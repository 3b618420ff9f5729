// Package main is the entry point for the Argus agent.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "argus",
		Short: "Argus watches forges, evaluates issues, and opens stamped pull requests",
		Long: `Argus is an autonomous agent that polls configured source-code forges,
evaluates open issues with an LLM, synthesizes code fixes, and opens pull
requests carrying a tamper-evident cryptographic transcript.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel, logFormat)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "argus.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")

	rootCmd.AddCommand(newRunCmd(&configFile))
	rootCmd.AddCommand(newStatusCmd(&configFile))
	rootCmd.AddCommand(newVerifyAuditCmd(&configFile))
	rootCmd.AddCommand(newRotateKeyCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}
