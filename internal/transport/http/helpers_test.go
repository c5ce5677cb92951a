package http

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"quizrevise/internal/app"
	"quizrevise/internal/domain"
	"quizrevise/internal/infra/memory"
)

var createdAt = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T, now time.Time) (*app.SchedulerService, *memory.ScheduleStore) {
	t.Helper()
	store := memory.NewScheduleStore()
	store.AddUser("u1")

	var mu sync.Mutex
	seq := 0
	service := app.NewSchedulerService(
		store,
		memory.NewQuizSetRepository(store, time.Minute),
		store,
		memory.NewFeedStore(),
		nil,
		app.WithClock(func() time.Time { return now }),
		app.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("sched-%d", seq)
		}),
	)
	return service, store
}

func sampleGenerated(quizID, userID string) domain.GeneratedQuiz {
	g := domain.GeneratedQuiz{
		Quiz: domain.Quiz{
			ID:        quizID,
			UserID:    userID,
			SubjectID: "cbse-10-science",
			ChapterID: "cbse-10-science-light",
			Title:     "Light - Reflection and Refraction",
			CreatedAt: createdAt,
		},
	}
	for n := 1; n <= domain.SetsPerQuiz; n++ {
		g.Sets = append(g.Sets, domain.QuizSet{
			ID:        fmt.Sprintf("%s-set-%d", quizID, n),
			SetNumber: n,
			Questions: []domain.Question{
				{ID: "q1", Prompt: "Mirror used by dentists?", Options: []string{"a", "b"}, CorrectKey: "a"},
				{ID: "q2", Prompt: "Unit of power of a lens?", Options: []string{"a", "b"}, CorrectKey: "b"},
			},
		})
	}
	return g
}
