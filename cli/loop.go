package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/petal-labs/scribe/agent"
	"github.com/petal-labs/scribe/tool/mcp"
)

// NewLoopCmd creates the "loop" subcommand: continuous iterations until
// interrupted.
func NewLoopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run agent iterations continuously",
		Long: "Run the agent loop until interrupted. Iterations are paced by a " +
			"fixed interval or a UTC cron schedule; a failed iteration is logged " +
			"and the loop continues.",
		Args: cobra.NoArgs,
		RunE: runLoop,
	}

	cmd.Flags().StringP("config", "c", "", "Path to scribe.yaml (default: discover)")
	cmd.Flags().Duration("interval", 0, "Pause between iterations (overrides config)")
	cmd.Flags().String("cron", "", "UTC cron schedule for iterations (overrides interval)")

	return cmd
}

func runLoop(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	interval, _ := cmd.Flags().GetDuration("interval")
	cronExpr, _ := cmd.Flags().GetString("cron")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}
	if interval <= 0 {
		interval = cfg.Agent.Interval()
	}
	if cronExpr == "" {
		cronExpr = cfg.Agent.Cron
	}

	var schedule cron.Schedule
	if cronExpr != "" {
		schedule, err = parseCronExpressionUTC(cronExpr)
		if err != nil {
			return exitError(exitConfig, "%v", err)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := commandLogger(cmd)
	components, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, mcp.ErrSpawn) {
			return exitError(exitSpawn, "%v", err)
		}
		return exitError(exitRuntime, "%v", err)
	}
	defer components.shutdown(context.Background())

	if schedule != nil {
		err = runOnSchedule(ctx, components.agent, schedule, logger)
	} else {
		err = components.agent.Run(ctx, interval)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitError(exitRuntime, "%v", err)
	}
	logger.Info("loop stopped")
	return nil
}

// runOnSchedule drives iterations at the schedule's firing times. As with the
// interval loop, a failed iteration is logged and the schedule keeps firing.
func runOnSchedule(ctx context.Context, loopAgent *agent.Agent, schedule cron.Schedule, logger *slog.Logger) error {
	for {
		next := schedule.Next(time.Now().UTC())
		logger.Info("next iteration scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if err := loopAgent.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("iteration failed", "run_id", loopAgent.RunID(), "error", err)
		}
	}
}
