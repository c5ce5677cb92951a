package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizrevise/internal/app"
	"quizrevise/internal/config"
	"quizrevise/internal/logger"
	transport "quizrevise/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler API and websocket feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	sweeperDone := make(chan struct{})
	if cfg.Scheduler.Missed.Enabled {
		grace := config.TTLDuration(cfg.Scheduler.Missed.Grace, defaultMissedGrace)
		sweeper := app.NewMissedSweeper(deps.service, cfg.Scheduler.Missed.Cron, grace, log)
		go func() {
			defer close(sweeperDone)
			if err := sweeper.Start(ctx); err != nil {
				log.Error("missed sweeper failed", zap.Error(err))
			}
		}()
	} else {
		close(sweeperDone)
	}

	router := transport.NewRouter(
		transport.NewAPI(deps.service, log),
		transport.NewWSHandler(deps.service, log),
	)
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quizrevise", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	cancelBackground()
	<-sweeperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
