package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizrevise/internal/config"
	"quizrevise/internal/infra/postgres"
	"quizrevise/internal/logger"
)

// NewSeedCmd inserts the demo catalog and student.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed boards, subjects and a demo student",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db := postgres.Open(cfg.Postgres.URL)
	defer db.Close()

	data := postgres.DemoSeed()
	if err := postgres.Seed(ctx, db, data); err != nil {
		return err
	}
	log.Info("seed applied",
		zap.Int("users", len(data.Users)),
		zap.Int("subjects", len(data.Subjects)))
	return nil
}
