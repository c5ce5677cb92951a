package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizrevise/internal/domain"
)

// ScheduleRepository abstracts how schedules are stored (in-memory, Postgres).
type ScheduleRepository interface {
	// CreateScheduleSet stores the quiz, its sets and all schedules in one
	// all-or-nothing write.
	CreateScheduleSet(ctx context.Context, quiz domain.GeneratedQuiz, schedules []domain.QuizSchedule) error
	GetSchedule(ctx context.Context, scheduleID string) (domain.QuizSchedule, error)
	// ListDue returns pending schedules with scheduledDate <= asOf.
	ListDue(ctx context.Context, userID string, asOf time.Time) ([]domain.QuizSchedule, error)
	// ListUpcoming returns pending schedules with scheduledDate >= from.
	ListUpcoming(ctx context.Context, userID string, from time.Time) ([]domain.QuizSchedule, error)
	// CompleteSchedule applies the completion only while the row is pending.
	CompleteSchedule(ctx context.Context, scheduleID string, completion domain.Completion) error
	// MarkMissed moves pending schedules dated before cutoff to missed and returns them.
	MarkMissed(ctx context.Context, cutoff time.Time) ([]domain.QuizSchedule, error)
}

// QuizSetRepository loads quiz set content (from cache/backing store).
type QuizSetRepository interface {
	GetQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error)
}

// PerformanceReader is the reporting read model over completed schedules.
type PerformanceReader interface {
	CompletedAttempts(ctx context.Context, filter domain.PerformanceFilter) ([]domain.CompletedAttempt, error)
}

// FeedRepository routes schedule events to live listeners, in process or
// across instances.
type FeedRepository interface {
	Subscribe(ctx context.Context, userID string) (<-chan domain.ScheduleEvent, func(), error)
	Publish(ctx context.Context, ev domain.ScheduleEvent) error
}

// Option customizes a SchedulerService.
type Option func(*SchedulerService)

// WithIntervals replaces the default interval table.
func WithIntervals(t IntervalTable) Option {
	return func(s *SchedulerService) { s.intervals = t }
}

// WithLocation sets the zone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *SchedulerService) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SchedulerService) { s.now = now }
}

// WithIDGenerator overrides schedule ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *SchedulerService) { s.newID = newID }
}

// SchedulerService contains the spaced-repetition use cases.
type SchedulerService struct {
	schedules ScheduleRepository
	quizSets  QuizSetRepository
	reports   PerformanceReader
	feeds     FeedRepository
	intervals IntervalTable
	location  *time.Location
	now       func() time.Time
	newID     func() string
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewSchedulerService(
	schedules ScheduleRepository,
	quizSets QuizSetRepository,
	reports PerformanceReader,
	feeds FeedRepository,
	logger *zap.Logger,
	opts ...Option,
) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SchedulerService{
		schedules: schedules,
		quizSets:  quizSets,
		reports:   reports,
		feeds:     feeds,
		intervals: DefaultIntervalTable(),
		location:  time.UTC,
		now:       time.Now,
		newID:     uuid.NewString,
		validate:  validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Intervals exposes the active interval table.
func (s *SchedulerService) Intervals() IntervalTable {
	return s.intervals
}

// RetentionStage labels an elapsed number of days with its interval stage.
func (s *SchedulerService) RetentionStage(daysPassed int) int {
	return s.intervals.RetentionStage(daysPassed)
}

// ValidateGenerated checks a generator payload: quiz fields, eight sets
// numbered 1..8 without repeats, and non-empty questions with answer keys.
func (s *SchedulerService) ValidateGenerated(g domain.GeneratedQuiz) error {
	if err := s.validate.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Validationf("%s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return domain.Validationf("%v", err)
	}
	seen := make(map[int]bool, len(g.Sets))
	for _, set := range g.Sets {
		if seen[set.SetNumber] {
			return domain.Validationf("set number %d repeated", set.SetNumber)
		}
		seen[set.SetNumber] = true
		if set.QuizID != "" && set.QuizID != g.Quiz.ID {
			return domain.Validationf("set %q belongs to quiz %q, not %q", set.ID, set.QuizID, g.Quiz.ID)
		}
	}
	return nil
}

// BuildScheduleSet computes one pending schedule per set without touching storage.
func (s *SchedulerService) BuildScheduleSet(quiz domain.Quiz, sets []domain.QuizSet, userID string, createdAt time.Time) ([]domain.QuizSchedule, error) {
	if len(sets) != domain.SetsPerQuiz {
		return nil, domain.Validationf("quiz %q has %d sets, want %d", quiz.ID, len(sets), domain.SetsPerQuiz)
	}
	schedules := make([]domain.QuizSchedule, 0, len(sets))
	for _, set := range sets {
		date, err := s.intervals.ScheduledDate(set.SetNumber, createdAt)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, domain.QuizSchedule{
			ID:            s.newID(),
			QuizID:        quiz.ID,
			UserID:        userID,
			QuizSetID:     set.ID,
			SetNumber:     set.SetNumber,
			ScheduledDate: date,
			Status:        domain.StatusPending,
		})
	}
	sort.SliceStable(schedules, func(i, j int) bool {
		return schedules[i].SetNumber < schedules[j].SetNumber
	})
	return schedules, nil
}

// RegisterGeneratedQuiz is the generator hook: it validates the payload and
// creates the full schedule set for the quiz owner.
func (s *SchedulerService) RegisterGeneratedQuiz(ctx context.Context, g domain.GeneratedQuiz) ([]domain.QuizSchedule, error) {
	if err := s.ValidateGenerated(g); err != nil {
		return nil, err
	}
	createdAt := g.Quiz.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	return s.CreateScheduleSet(ctx, g, g.Quiz.UserID, createdAt)
}

// CreateScheduleSet creates all eight pending schedules for a quiz in one write.
func (s *SchedulerService) CreateScheduleSet(ctx context.Context, g domain.GeneratedQuiz, userID string, createdAt time.Time) ([]domain.QuizSchedule, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	createdAt = createdAt.UTC()
	schedules, err := s.BuildScheduleSet(g.Quiz, g.Sets, userID, createdAt)
	if err != nil {
		return nil, err
	}

	stored := g
	stored.Quiz.UserID = userID
	stored.Quiz.CreatedAt = createdAt
	stored.Sets = make([]domain.QuizSet, len(g.Sets))
	for i, set := range g.Sets {
		set.QuizID = g.Quiz.ID
		stored.Sets[i] = set
	}

	if err := s.schedules.CreateScheduleSet(ctx, stored, schedules); err != nil {
		s.logger.Error("create schedule set failed",
			zap.String("quiz_id", g.Quiz.ID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, err
	}
	s.logger.Info("schedule set created",
		zap.String("quiz_id", g.Quiz.ID),
		zap.String("user_id", userID),
		zap.Time("created_at", createdAt))

	s.publish(ctx, userID, domain.EventSchedulesCreated, schedules, nil)
	return schedules, nil
}

// GetDueSchedules returns pending schedules dated at or before asOf, overdue
// ones included, oldest first.
func (s *SchedulerService) GetDueSchedules(ctx context.Context, userID string, asOf time.Time) ([]domain.QuizSchedule, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	due, err := s.schedules.ListDue(ctx, userID, asOf.UTC())
	if err != nil {
		return nil, err
	}
	sortByScheduledDate(due)
	return due, nil
}

// GetUpcomingSchedules returns pending schedules dated after the end of
// asOf's day in the configured zone.
func (s *SchedulerService) GetUpcomingSchedules(ctx context.Context, userID string, asOf time.Time) ([]domain.QuizSchedule, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}
	upcoming, err := s.schedules.ListUpcoming(ctx, userID, s.startOfNextDay(asOf).UTC())
	if err != nil {
		return nil, err
	}
	sortByScheduledDate(upcoming)
	return upcoming, nil
}

// CompleteSchedule moves a pending schedule to completed with its score,
// answers and completion time. Resubmission fails with ErrInvalidState.
func (s *SchedulerService) CompleteSchedule(ctx context.Context, scheduleID string, score int, answers map[string]string, completedAt time.Time) (domain.QuizSchedule, error) {
	if err := validScore(score); err != nil {
		return domain.QuizSchedule{}, err
	}
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return domain.QuizSchedule{}, err
	}
	if schedule.Status != domain.StatusPending {
		return domain.QuizSchedule{}, domain.InvalidState("schedule", scheduleID, schedule.Status)
	}
	return s.complete(ctx, schedule, score, answers, completedAt)
}

// SubmitCompletion scores the submitted answers against the set's keys and
// completes the schedule.
func (s *SchedulerService) SubmitCompletion(ctx context.Context, scheduleID string, answers map[string]string) (domain.QuizSchedule, error) {
	return s.submit(ctx, "", scheduleID, answers)
}

// SubmitCompletionAs is SubmitCompletion on behalf of userID. Schedules owned
// by anyone else are reported as not found.
func (s *SchedulerService) SubmitCompletionAs(ctx context.Context, userID, scheduleID string, answers map[string]string) (domain.QuizSchedule, error) {
	if userID == "" {
		return domain.QuizSchedule{}, domain.Validationf("user id is required")
	}
	return s.submit(ctx, userID, scheduleID, answers)
}

func (s *SchedulerService) submit(ctx context.Context, userID, scheduleID string, answers map[string]string) (domain.QuizSchedule, error) {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return domain.QuizSchedule{}, err
	}
	if userID != "" && schedule.UserID != userID {
		s.logger.Warn("completion for foreign schedule",
			zap.String("schedule_id", scheduleID),
			zap.String("user_id", userID))
		return domain.QuizSchedule{}, domain.NotFound("schedule", scheduleID)
	}
	if schedule.Status != domain.StatusPending {
		return domain.QuizSchedule{}, domain.InvalidState("schedule", scheduleID, schedule.Status)
	}
	set, err := s.quizSets.GetQuizSet(ctx, schedule.QuizSetID)
	if err != nil {
		return domain.QuizSchedule{}, err
	}
	score := ComputeScore(set.Questions, answers)
	return s.complete(ctx, schedule, score, answers, s.now())
}

func (s *SchedulerService) complete(ctx context.Context, schedule domain.QuizSchedule, score int, answers map[string]string, completedAt time.Time) (domain.QuizSchedule, error) {
	completedAt = completedAt.UTC()
	if answers == nil {
		answers = map[string]string{}
	}
	err := s.schedules.CompleteSchedule(ctx, schedule.ID, domain.Completion{
		Score:       score,
		Answers:     answers,
		CompletedAt: completedAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			s.logger.Warn("completion rejected",
				zap.String("schedule_id", schedule.ID),
				zap.String("user_id", schedule.UserID),
				zap.Error(err))
		}
		return domain.QuizSchedule{}, err
	}

	schedule.Status = domain.StatusCompleted
	schedule.Score = &score
	schedule.CompletedDate = &completedAt
	schedule.UserAnswers = answers

	s.logger.Info("schedule completed",
		zap.String("schedule_id", schedule.ID),
		zap.String("user_id", schedule.UserID),
		zap.Int("score", score))
	s.publish(ctx, schedule.UserID, domain.EventScheduleCompleted, []domain.QuizSchedule{schedule}, &score)
	return schedule, nil
}

// PerformanceSeries returns completed attempts as (date, score, set) points,
// oldest completion first.
func (s *SchedulerService) PerformanceSeries(ctx context.Context, filter domain.PerformanceFilter) ([]domain.PerformancePoint, error) {
	if filter.UserID == "" {
		return nil, domain.Validationf("user id is required")
	}
	if r := filter.Range; r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return nil, domain.Validationf("date range ends before it starts")
	}
	attempts, err := s.reports.CompletedAttempts(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		if !attempts[i].CompletedAt.Equal(attempts[j].CompletedAt) {
			return attempts[i].CompletedAt.Before(attempts[j].CompletedAt)
		}
		return attempts[i].SetNumber < attempts[j].SetNumber
	})
	points := make([]domain.PerformancePoint, 0, len(attempts))
	for _, a := range attempts {
		points = append(points, domain.PerformancePoint{
			ScheduleID:     a.ScheduleID,
			QuizID:         a.QuizID,
			Date:           a.CompletedAt,
			Score:          a.Score,
			SetNumber:      a.SetNumber,
			RetentionStage: s.intervals.RetentionStage(daysBetween(a.QuizCreatedAt, a.CompletedAt)),
		})
	}
	return points, nil
}

// MarkMissed moves pending schedules older than asOf-grace to missed.
func (s *SchedulerService) MarkMissed(ctx context.Context, asOf time.Time, grace time.Duration) ([]domain.QuizSchedule, error) {
	if grace < 0 {
		return nil, domain.Validationf("grace %s is negative", grace)
	}
	cutoff := asOf.UTC().Add(-grace)
	missed, err := s.schedules.MarkMissed(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark missed: %w", err)
	}

	byUser := make(map[string][]domain.QuizSchedule)
	for _, m := range missed {
		byUser[m.UserID] = append(byUser[m.UserID], m)
	}
	for userID, rows := range byUser {
		sortByScheduledDate(rows)
		s.publish(ctx, userID, domain.EventSchedulesMissed, rows, nil)
	}
	s.logger.Info("missed sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int("missed", len(missed)))
	return missed, nil
}

// Subscribe returns a channel of schedule events for a user.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *SchedulerService) Subscribe(ctx context.Context, userID string) (<-chan domain.ScheduleEvent, func(), error) {
	if userID == "" {
		return nil, nil, domain.Validationf("user id is required")
	}
	if s.feeds == nil {
		return nil, nil, domain.Validationf("live feed not configured")
	}
	return s.feeds.Subscribe(ctx, userID)
}

func (s *SchedulerService) publish(ctx context.Context, userID string, typ domain.EventType, schedules []domain.QuizSchedule, score *int) {
	if s.feeds == nil {
		return
	}
	views := make([]domain.ScheduleView, 0, len(schedules))
	for _, sc := range schedules {
		views = append(views, sc.View())
	}
	err := s.feeds.Publish(ctx, domain.ScheduleEvent{
		Type:      typ,
		UserID:    userID,
		Schedules: views,
		Score:     score,
		At:        s.now().UTC(),
	})
	if err != nil {
		// listeners resync from the next due snapshot
		s.logger.Warn("publish schedule event failed",
			zap.String("user_id", userID),
			zap.String("event", string(typ)),
			zap.Error(err))
	}
}

func (s *SchedulerService) startOfNextDay(asOf time.Time) time.Time {
	local := asOf.In(s.location)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, s.location)
}

func sortByScheduledDate(rows []domain.QuizSchedule) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].ScheduledDate.Equal(rows[j].ScheduledDate) {
			return rows[i].ScheduledDate.Before(rows[j].ScheduledDate)
		}
		return rows[i].SetNumber < rows[j].SetNumber
	})
}

// Views projects schedules into presentation records.
func Views(rows []domain.QuizSchedule) []domain.ScheduleView {
	out := make([]domain.ScheduleView, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.View())
	}
	return out
}
