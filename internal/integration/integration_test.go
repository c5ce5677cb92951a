package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"quizrevise/internal/app"
	"quizrevise/internal/domain"
	"quizrevise/internal/infra/postgres"
	infraredis "quizrevise/internal/infra/redis"
)

const student = "demo-student"

var createdAt = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type env struct {
	db      *bun.DB
	pool    *pgxpool.Pool
	redis   *goredis.Client
	store   *postgres.ScheduleStore
	cleanup func()
}

func setup(t *testing.T, ctx context.Context) *env {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	redisURL, redisCleanup := startRedis(t, ctx)

	db := postgres.Open(pgURL)
	if _, err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := postgres.Seed(ctx, db, postgres.DemoSeed()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	return &env{
		db:    db,
		pool:  pool,
		redis: redisClient,
		store: postgres.NewScheduleStore(db),
		cleanup: func() {
			_ = redisClient.Close()
			pool.Close()
			_ = db.Close()
			redisCleanup()
			pgCleanup()
		},
	}
}

func (e *env) service(now time.Time, opts ...app.Option) *app.SchedulerService {
	quizSets := infraredis.NewQuizSetRepository(e.redis, postgres.NewQuizSetLoader(e.pool), 5*time.Minute)
	feeds := infraredis.NewFeedStore(e.redis, nil)
	opts = append([]app.Option{app.WithClock(func() time.Time { return now })}, opts...)
	return app.NewSchedulerService(e.store, quizSets, postgres.NewPerformanceReader(e.pool), feeds, nil, opts...)
}

func TestScheduleLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)
	defer e.cleanup()

	now := createdAt.AddDate(0, 0, 6)
	service := e.service(now)

	created, err := service.RegisterGeneratedQuiz(ctx, generatedQuiz("quiz-1"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(created) != domain.SetsPerQuiz {
		t.Fatalf("expected %d schedules, got %d", domain.SetsPerQuiz, len(created))
	}
	if n := countRows(t, ctx, e.db, "quiz_schedules"); n != domain.SetsPerQuiz {
		t.Fatalf("expected %d persisted schedules, got %d", domain.SetsPerQuiz, n)
	}

	due, err := service.GetDueSchedules(ctx, student, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 3 || due[2].ScheduledDate.Format("2006-01-02") != "2024-01-06" {
		t.Fatalf("expected sets 1-3 due, got %+v", due)
	}
	upcoming, err := service.GetUpcomingSchedules(ctx, student, now)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 5 || upcoming[4].ScheduledDate.Format("2006-01-02") != "2024-06-29" {
		t.Fatalf("expected sets 4-8 upcoming, got %+v", upcoming)
	}

	done, err := service.SubmitCompletion(ctx, due[1].ID, map[string]string{"q1": "a", "q2": "a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *done.Score != 50 {
		t.Fatalf("expected score 50, got %d", *done.Score)
	}
	stored, err := e.store.GetSchedule(ctx, due[1].ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if stored.Status != domain.StatusCompleted || stored.UserAnswers["q2"] != "a" || stored.CompletedDate == nil {
		t.Fatalf("unexpected stored schedule %+v", stored)
	}

	_, err = service.SubmitCompletion(ctx, due[1].ID, map[string]string{"q1": "a", "q2": "b"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on resubmission, got %v", err)
	}

	subject := "cbse-10-science"
	points, err := service.PerformanceSeries(ctx, domain.PerformanceFilter{UserID: student, SubjectID: &subject})
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(points) != 1 || points[0].Score != 50 || points[0].SetNumber != 2 || points[0].RetentionStage != 3 {
		t.Fatalf("unexpected points %+v", points)
	}

	missed, err := service.MarkMissed(ctx, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("mark missed: %v", err)
	}
	if len(missed) != 1 || missed[0].SetNumber != 1 {
		t.Fatalf("expected only set 1 missed, got %+v", missed)
	}

	if err := e.store.DeleteUser(ctx, student); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	for _, table := range []string{"quizzes", "quiz_sets", "quiz_schedules"} {
		if n := countRows(t, ctx, e.db, table); n != 0 {
			t.Fatalf("expected %s emptied by cascade, got %d rows", table, n)
		}
	}
}

func TestCreateScheduleSetRollsBack(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)
	defer e.cleanup()

	var mu sync.Mutex
	seq := 0
	service := e.service(createdAt, app.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		if seq == 5 {
			return "sched-4"
		}
		return fmt.Sprintf("sched-%d", seq)
	}))

	_, err := service.RegisterGeneratedQuiz(ctx, generatedQuiz("quiz-rollback"))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	for _, table := range []string{"quizzes", "quiz_sets", "quiz_schedules"} {
		if n := countRows(t, ctx, e.db, table); n != 0 {
			t.Fatalf("expected no %s rows after rollback, got %d", table, n)
		}
	}
}

func TestRegisterRejectsTakenSetIDs(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)
	defer e.cleanup()

	service := e.service(createdAt)
	if _, err := service.RegisterGeneratedQuiz(ctx, generatedQuiz("quiz-a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	again := generatedQuiz("quiz-b")
	again.Sets[2].ID = "quiz-a-set-3"
	if _, err := service.RegisterGeneratedQuiz(ctx, again); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if n := countRows(t, ctx, e.db, "quiz_sets"); n != domain.SetsPerQuiz {
		t.Fatalf("expected %d quiz_sets rows, got %d", domain.SetsPerQuiz, n)
	}
	var owner string
	if err := e.db.NewSelect().Table("quiz_sets").Column("quiz_id").Where("id = ?", "quiz-a-set-3").Scan(ctx, &owner); err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if owner != "quiz-a" {
		t.Fatalf("set reassigned to %q", owner)
	}
}

func TestConcurrentCompletionSingleWinner(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)
	defer e.cleanup()

	service := e.service(createdAt)
	created, err := service.RegisterGeneratedQuiz(ctx, generatedQuiz("quiz-race"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CompleteSchedule(ctx, created[0].ID, 80, map[string]string{"q1": "a"}, createdAt)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInvalidState):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func generatedQuiz(quizID string) domain.GeneratedQuiz {
	topic := "cbse-10-science-light-mirrors"
	g := domain.GeneratedQuiz{
		Quiz: domain.Quiz{
			ID:        quizID,
			UserID:    student,
			SubjectID: "cbse-10-science",
			ChapterID: "cbse-10-science-light",
			TopicID:   &topic,
			Title:     "Spherical Mirrors",
			CreatedAt: createdAt,
		},
	}
	for n := 1; n <= domain.SetsPerQuiz; n++ {
		g.Sets = append(g.Sets, domain.QuizSet{
			ID:        fmt.Sprintf("%s-set-%d", quizID, n),
			SetNumber: n,
			Questions: []domain.Question{
				{ID: "q1", Prompt: "Mirror used by dentists?", Options: []string{"a", "b"}, CorrectKey: "a"},
				{ID: "q2", Prompt: "Focal length of a plane mirror?", Options: []string{"a", "b"}, CorrectKey: "b"},
			},
		})
	}
	return g
}

func countRows(t *testing.T, ctx context.Context, db *bun.DB, table string) int {
	t.Helper()
	n, err := db.NewSelect().Table(table).Count(ctx)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
