package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizrevise/internal/app"
	"quizrevise/internal/config"
	"quizrevise/internal/logger"
)

// NewSweepCmd marks overdue pending schedules as missed once and exits.
func NewSweepCmd(configPath *string) *cobra.Command {
	var grace string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue pending schedules as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath, grace)
		},
	}
	cmd.Flags().StringVar(&grace, "grace", "", "grace period after the scheduled date (overrides scheduler.missed.grace)")
	return cmd
}

func runSweep(ctx context.Context, configPath, graceFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	raw := cfg.Scheduler.Missed.Grace
	if graceFlag != "" {
		raw = graceFlag
	}
	grace := config.TTLDuration(raw, defaultMissedGrace)

	n, err := app.NewMissedSweeper(deps.service, cfg.Scheduler.Missed.Cron, grace, log).RunOnce(ctx)
	if err != nil {
		return err
	}
	log.Info("sweep finished", zap.Int("missed", n), zap.Duration("grace", grace))
	return nil
}

const defaultMissedGrace = 24 * time.Hour
