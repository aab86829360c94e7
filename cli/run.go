// Package cli implements the scribe command surface.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/scribe/agent"
	"github.com/petal-labs/scribe/tool/mcp"
)

// NewRunCmd creates the "run" subcommand: one loop iteration.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent iteration",
		Long:  "Query the model once, parse its reply into directives, and dispatch them.",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}

	cmd.Flags().StringP("config", "c", "", "Path to scribe.yaml (default: discover)")
	cmd.Flags().String("context", "", "Override the seed context for this run")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	contextOverride, _ := cmd.Flags().GetString("context")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}
	if strings.TrimSpace(contextOverride) != "" {
		cfg.Agent.Context = contextOverride
	}

	logger := commandLogger(cmd)
	components, err := buildRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		if errors.Is(err, mcp.ErrSpawn) {
			return exitError(exitSpawn, "%v", err)
		}
		return exitError(exitRuntime, "%v", err)
	}
	defer components.shutdown(context.Background())

	if err := components.agent.RunOnce(cmd.Context()); err != nil {
		var iterErr *agent.IterationError
		if errors.As(err, &iterErr) && iterErr.RawReply != "" {
			logger.Error("iteration failed",
				"error", err,
				"raw_reply", iterErr.RawReply)
		}
		return exitError(exitRuntime, "%v", err)
	}
	return nil
}

func commandLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
