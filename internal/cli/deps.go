package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"quizrevise/internal/app"
	"quizrevise/internal/config"
	"quizrevise/internal/infra/memory"
	"quizrevise/internal/infra/postgres"
	redisstore "quizrevise/internal/infra/redis"
)

// deps is the wired scheduler plus the handles that need closing.
type deps struct {
	service *app.SchedulerService
	db      *bun.DB
	pool    *pgxpool.Pool
	redis   *redis.Client
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildDeps picks Postgres and Redis backends when configured and falls back
// to in-memory stores otherwise.
func buildDeps(ctx context.Context, cfg config.Config, log *zap.Logger) (*deps, error) {
	d := &deps{}

	intervals := app.DefaultIntervalTable()
	if len(cfg.Scheduler.Offsets) > 0 {
		t, err := app.NewIntervalTable(cfg.Scheduler.Offsets)
		if err != nil {
			return nil, err
		}
		intervals = t
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	setTTL := config.TTLDuration(cfg.QuizSets.TTL, 10*time.Minute)

	var (
		schedules app.ScheduleRepository
		reports   app.PerformanceReader
		loader    memory.QuizSetLoader
	)
	if cfg.Postgres.URL != "" {
		d.db = postgres.Open(cfg.Postgres.URL)
		d.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.Close()
			return nil, err
		}
		schedules = postgres.NewScheduleStore(d.db)
		reports = postgres.NewPerformanceReader(d.pool)
		loader = postgres.NewQuizSetLoader(d.pool)
		log.Info("using postgres storage")
	} else {
		store := memory.NewScheduleStore()
		store.AddUser(demoUserID)
		schedules, reports, loader = store, store, store
		log.Warn("postgres not configured, using in-memory storage", zap.String("demo_user", demoUserID))
	}

	var (
		quizSets app.QuizSetRepository
		feeds    app.FeedRepository
	)
	if d.redis != nil {
		quizSets = redisstore.NewQuizSetRepository(d.redis, loader, setTTL)
		feeds = redisstore.NewFeedStore(d.redis, log)
	} else {
		quizSets = memory.NewQuizSetRepository(loader, setTTL)
		feeds = memory.NewFeedStore()
	}

	d.service = app.NewSchedulerService(schedules, quizSets, reports, feeds, log,
		app.WithIntervals(intervals),
		app.WithLocation(loc),
	)
	return d, nil
}

const demoUserID = "demo-student"
