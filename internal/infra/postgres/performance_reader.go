package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizrevise/internal/domain"
)

// PerformanceReader serves the reporting read model: completed schedules
// joined with their owning quiz for subject filtering.
type PerformanceReader struct {
	pool *pgxpool.Pool
}

func NewPerformanceReader(pool *pgxpool.Pool) *PerformanceReader {
	return &PerformanceReader{pool: pool}
}

func (r *PerformanceReader) CompletedAttempts(ctx context.Context, f domain.PerformanceFilter) ([]domain.CompletedAttempt, error) {
	query, args := performanceQuery(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence("query performance", err)
	}
	defer rows.Close()

	var out []domain.CompletedAttempt
	for rows.Next() {
		var a domain.CompletedAttempt
		if err := rows.Scan(&a.ScheduleID, &a.QuizID, &a.SubjectID, &a.SetNumber, &a.Score, &a.CompletedAt, &a.QuizCreatedAt); err != nil {
			return nil, domain.Persistence("scan performance", err)
		}
		a.CompletedAt = a.CompletedAt.UTC()
		a.QuizCreatedAt = a.QuizCreatedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate performance", err)
	}
	return out, nil
}

func performanceQuery(f domain.PerformanceFilter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`SELECT s.id, s.quiz_id, q.subject_id, s.set_number, s.score, s.completed_date, q.created_at
FROM quiz_schedules s
JOIN quizzes q ON q.id = s.quiz_id
WHERE s.user_id = $1 AND s.status = 'completed'`)
	args := []interface{}{f.UserID}

	if f.SubjectID != nil {
		args = append(args, *f.SubjectID)
		fmt.Fprintf(&b, " AND q.subject_id = $%d", len(args))
	}
	if f.Range.From != nil {
		args = append(args, *f.Range.From)
		fmt.Fprintf(&b, " AND s.completed_date >= $%d", len(args))
	}
	if f.Range.To != nil {
		args = append(args, *f.Range.To)
		fmt.Fprintf(&b, " AND s.completed_date <= $%d", len(args))
	}
	b.WriteString(" ORDER BY s.completed_date ASC, s.set_number ASC")
	return b.String(), args
}
