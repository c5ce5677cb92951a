package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizrevise/internal/domain"
)

// QuizSetLoader loads quiz set JSONB from Postgres.
type QuizSetLoader struct {
	pool *pgxpool.Pool
}

func NewQuizSetLoader(pool *pgxpool.Pool) *QuizSetLoader {
	return &QuizSetLoader{pool: pool}
}

func (l *QuizSetLoader) LoadQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error) {
	set := domain.QuizSet{ID: quizSetID}
	var raw []byte
	err := l.pool.QueryRow(ctx,
		`SELECT quiz_id, set_number, questions FROM quiz_sets WHERE id=$1`, quizSetID,
	).Scan(&set.QuizID, &set.SetNumber, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuizSet{}, domain.NotFound("quiz set", quizSetID)
		}
		return domain.QuizSet{}, domain.Persistence("load quiz set", err)
	}
	if err := json.Unmarshal(raw, &set.Questions); err != nil {
		return domain.QuizSet{}, fmt.Errorf("unmarshal quiz set: %w", err)
	}
	return set, nil
}
