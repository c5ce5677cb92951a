package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"quizrevise/internal/domain"
)

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	SubjectID string    `bun:"subject_id,notnull"`
	ChapterID string    `bun:"chapter_id,notnull"`
	TopicID   *string   `bun:"topic_id"`
	Title     string    `bun:"title"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type quizSetRow struct {
	bun.BaseModel `bun:"table:quiz_sets"`

	ID        string            `bun:"id,pk"`
	QuizID    string            `bun:"quiz_id,notnull"`
	SetNumber int               `bun:"set_number,notnull"`
	Questions []domain.Question `bun:"questions,type:jsonb,notnull"`
}

type scheduleRow struct {
	bun.BaseModel `bun:"table:quiz_schedules"`

	ID            string            `bun:"id,pk"`
	QuizID        string            `bun:"quiz_id,notnull"`
	UserID        string            `bun:"user_id,notnull"`
	QuizSetID     string            `bun:"quiz_set_id,notnull"`
	SetNumber     int               `bun:"set_number,notnull"`
	ScheduledDate time.Time         `bun:"scheduled_date,notnull"`
	CompletedDate *time.Time        `bun:"completed_date"`
	Score         *int              `bun:"score"`
	UserAnswers   map[string]string `bun:"user_answers,type:jsonb,nullzero"`
	Status        string            `bun:"status,notnull"`
}

func (r scheduleRow) toDomain() domain.QuizSchedule {
	s := domain.QuizSchedule{
		ID:            r.ID,
		QuizID:        r.QuizID,
		UserID:        r.UserID,
		QuizSetID:     r.QuizSetID,
		SetNumber:     r.SetNumber,
		ScheduledDate: r.ScheduledDate.UTC(),
		Score:         r.Score,
		UserAnswers:   r.UserAnswers,
		Status:        domain.ScheduleStatus(r.Status),
	}
	if r.CompletedDate != nil {
		done := r.CompletedDate.UTC()
		s.CompletedDate = &done
	}
	return s
}

func fromDomain(s domain.QuizSchedule) scheduleRow {
	return scheduleRow{
		ID:            s.ID,
		QuizID:        s.QuizID,
		UserID:        s.UserID,
		QuizSetID:     s.QuizSetID,
		SetNumber:     s.SetNumber,
		ScheduledDate: s.ScheduledDate,
		CompletedDate: s.CompletedDate,
		Score:         s.Score,
		UserAnswers:   s.UserAnswers,
		Status:        string(s.Status),
	}
}

// ScheduleStore persists quizzes, sets and schedules through bun.
type ScheduleStore struct {
	db *bun.DB
}

func NewScheduleStore(db *bun.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// CreateScheduleSet writes the quiz, its sets and every schedule in a single
// transaction; any failing insert rolls the whole batch back.
func (s *ScheduleStore) CreateScheduleSet(ctx context.Context, g domain.GeneratedQuiz, schedules []domain.QuizSchedule) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		userExists, err := tx.NewSelect().Table("users").Where("id = ?", g.Quiz.UserID).Exists(ctx)
		if err != nil {
			return domain.Persistence("check user", err)
		}
		if !userExists {
			return domain.NotFound("user", g.Quiz.UserID)
		}
		quizExists, err := tx.NewSelect().Model((*quizRow)(nil)).Where("id = ?", g.Quiz.ID).Exists(ctx)
		if err != nil {
			return domain.Persistence("check quiz", err)
		}
		if quizExists {
			return domain.Validationf("quiz %q already registered", g.Quiz.ID)
		}
		setIDs := make([]string, 0, len(g.Sets))
		for _, set := range g.Sets {
			setIDs = append(setIDs, set.ID)
		}
		setsTaken, err := tx.NewSelect().Model((*quizSetRow)(nil)).Where("id IN (?)", bun.In(setIDs)).Exists(ctx)
		if err != nil {
			return domain.Persistence("check quiz sets", err)
		}
		if setsTaken {
			return domain.Validationf("quiz sets of %q reuse registered set ids", g.Quiz.ID)
		}

		quiz := quizRow{
			ID:        g.Quiz.ID,
			UserID:    g.Quiz.UserID,
			SubjectID: g.Quiz.SubjectID,
			ChapterID: g.Quiz.ChapterID,
			TopicID:   g.Quiz.TopicID,
			Title:     g.Quiz.Title,
			CreatedAt: g.Quiz.CreatedAt,
		}
		if _, err := tx.NewInsert().Model(&quiz).Exec(ctx); err != nil {
			return domain.Persistence("insert quiz", err)
		}

		sets := make([]quizSetRow, 0, len(g.Sets))
		for _, set := range g.Sets {
			sets = append(sets, quizSetRow{
				ID:        set.ID,
				QuizID:    g.Quiz.ID,
				SetNumber: set.SetNumber,
				Questions: set.Questions,
			})
		}
		if _, err := tx.NewInsert().Model(&sets).Exec(ctx); err != nil {
			return domain.Persistence("insert quiz sets", err)
		}

		for _, sc := range schedules {
			row := fromDomain(sc)
			if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
				return domain.Persistence("insert schedule", err)
			}
		}
		return nil
	})
	if err != nil && !isDomainError(err) {
		return domain.Persistence("create schedule set", err)
	}
	return err
}

func (s *ScheduleStore) GetSchedule(ctx context.Context, scheduleID string) (domain.QuizSchedule, error) {
	var row scheduleRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", scheduleID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuizSchedule{}, domain.NotFound("schedule", scheduleID)
		}
		return domain.QuizSchedule{}, domain.Persistence("get schedule", err)
	}
	return row.toDomain(), nil
}

func (s *ScheduleStore) ListDue(ctx context.Context, userID string, asOf time.Time) ([]domain.QuizSchedule, error) {
	return s.listPending(ctx, userID, "scheduled_date <= ?", asOf)
}

func (s *ScheduleStore) ListUpcoming(ctx context.Context, userID string, from time.Time) ([]domain.QuizSchedule, error) {
	return s.listPending(ctx, userID, "scheduled_date >= ?", from)
}

func (s *ScheduleStore) listPending(ctx context.Context, userID, dateCond string, at time.Time) ([]domain.QuizSchedule, error) {
	var rows []scheduleRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("status = ?", string(domain.StatusPending)).
		Where(dateCond, at).
		Order("scheduled_date ASC", "set_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, domain.Persistence("list schedules", err)
	}
	out := make([]domain.QuizSchedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// CompleteSchedule is a single conditional UPDATE ... WHERE status = 'pending',
// so of two racing submissions exactly one affects the row.
func (s *ScheduleStore) CompleteSchedule(ctx context.Context, scheduleID string, c domain.Completion) error {
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return domain.Validationf("encode answers: %v", err)
	}
	res, err := s.db.NewUpdate().
		Model((*scheduleRow)(nil)).
		Set("status = ?", string(domain.StatusCompleted)).
		Set("score = ?", c.Score).
		Set("completed_date = ?", c.CompletedAt).
		Set("user_answers = ?::jsonb", string(answers)).
		Where("id = ?", scheduleID).
		Where("status = ?", string(domain.StatusPending)).
		Exec(ctx)
	if err != nil {
		return domain.Persistence("complete schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence("complete schedule", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	return domain.InvalidState("schedule", scheduleID, current.Status)
}

func (s *ScheduleStore) MarkMissed(ctx context.Context, cutoff time.Time) ([]domain.QuizSchedule, error) {
	var rows []scheduleRow
	err := s.db.NewUpdate().
		Model((*scheduleRow)(nil)).
		Set("status = ?", string(domain.StatusMissed)).
		Where("status = ?", string(domain.StatusPending)).
		Where("scheduled_date < ?", cutoff).
		Returning("*").
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Persistence("mark missed", err)
	}
	out := make([]domain.QuizSchedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// DeleteUser removes a user; quizzes, sets and schedules follow by cascade.
func (s *ScheduleStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.NewDelete().Table("users").Where("id = ?", userID).Exec(ctx); err != nil {
		return domain.Persistence("delete user", err)
	}
	return nil
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrPersistence)
}
