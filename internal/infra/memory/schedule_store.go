package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizrevise/internal/domain"
)

// ScheduleStore is an in-memory implementation of app.ScheduleRepository and
// app.PerformanceReader. It also serves stored sets to a QuizSetRepository.
type ScheduleStore struct {
	mu        sync.RWMutex
	users     map[string]struct{}
	quizzes   map[string]domain.Quiz
	sets      map[string]domain.QuizSet
	schedules map[string]domain.QuizSchedule

	// insertHook runs before each staged schedule insert; an error aborts the batch.
	insertHook func(i int, s domain.QuizSchedule) error
}

func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{
		users:     make(map[string]struct{}),
		quizzes:   make(map[string]domain.Quiz),
		sets:      make(map[string]domain.QuizSet),
		schedules: make(map[string]domain.QuizSchedule),
	}
}

// AddUser registers a user so schedules can reference it.
func (s *ScheduleStore) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
}

// DeleteUser removes a user together with its quizzes, sets and schedules.
func (s *ScheduleStore) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	for id, q := range s.quizzes {
		if q.UserID != userID {
			continue
		}
		delete(s.quizzes, id)
		for setID, set := range s.sets {
			if set.QuizID == id {
				delete(s.sets, setID)
			}
		}
	}
	for id, sc := range s.schedules {
		if sc.UserID == userID {
			delete(s.schedules, id)
		}
	}
}

// SetInsertHook installs a fault-injection hook for batch inserts.
func (s *ScheduleStore) SetInsertHook(hook func(i int, s domain.QuizSchedule) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertHook = hook
}

// Count returns how many schedules are stored.
func (s *ScheduleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

func (s *ScheduleStore) CreateScheduleSet(_ context.Context, g domain.GeneratedQuiz, schedules []domain.QuizSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[g.Quiz.UserID]; !ok {
		return domain.NotFound("user", g.Quiz.UserID)
	}
	if _, ok := s.quizzes[g.Quiz.ID]; ok {
		return domain.Validationf("quiz %q already registered", g.Quiz.ID)
	}
	for _, set := range g.Sets {
		if owner, ok := s.sets[set.ID]; ok {
			return domain.Validationf("quiz set %q already registered for quiz %q", set.ID, owner.QuizID)
		}
	}

	// Stage everything first; the maps are only touched once every row passed.
	staged := make(map[string]domain.QuizSchedule, len(schedules))
	for i, sc := range schedules {
		if s.insertHook != nil {
			if err := s.insertHook(i, sc); err != nil {
				return domain.Persistence("insert schedule", err)
			}
		}
		if _, dup := s.schedules[sc.ID]; dup {
			return domain.Validationf("schedule %q already exists", sc.ID)
		}
		if _, dup := staged[sc.ID]; dup {
			return domain.Validationf("schedule %q repeated in batch", sc.ID)
		}
		staged[sc.ID] = sc
	}

	s.quizzes[g.Quiz.ID] = g.Quiz
	for _, set := range g.Sets {
		s.sets[set.ID] = set
	}
	for id, sc := range staged {
		s.schedules[id] = sc
	}
	return nil
}

func (s *ScheduleStore) GetSchedule(_ context.Context, scheduleID string) (domain.QuizSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return domain.QuizSchedule{}, domain.NotFound("schedule", scheduleID)
	}
	return sc, nil
}

func (s *ScheduleStore) ListDue(_ context.Context, userID string, asOf time.Time) ([]domain.QuizSchedule, error) {
	return s.filterPending(userID, func(sc domain.QuizSchedule) bool {
		return !sc.ScheduledDate.After(asOf)
	}), nil
}

func (s *ScheduleStore) ListUpcoming(_ context.Context, userID string, from time.Time) ([]domain.QuizSchedule, error) {
	return s.filterPending(userID, func(sc domain.QuizSchedule) bool {
		return !sc.ScheduledDate.Before(from)
	}), nil
}

func (s *ScheduleStore) filterPending(userID string, keep func(domain.QuizSchedule) bool) []domain.QuizSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QuizSchedule, 0)
	for _, sc := range s.schedules {
		if sc.UserID == userID && sc.Status == domain.StatusPending && keep(sc) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].SetNumber < out[j].SetNumber
	})
	return out
}

func (s *ScheduleStore) CompleteSchedule(_ context.Context, scheduleID string, c domain.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[scheduleID]
	if !ok {
		return domain.NotFound("schedule", scheduleID)
	}
	if sc.Status != domain.StatusPending {
		return domain.InvalidState("schedule", scheduleID, sc.Status)
	}
	score := c.Score
	completedAt := c.CompletedAt
	answers := make(map[string]string, len(c.Answers))
	for k, v := range c.Answers {
		answers[k] = v
	}
	sc.Status = domain.StatusCompleted
	sc.Score = &score
	sc.CompletedDate = &completedAt
	sc.UserAnswers = answers
	s.schedules[scheduleID] = sc
	return nil
}

func (s *ScheduleStore) MarkMissed(_ context.Context, cutoff time.Time) ([]domain.QuizSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missed []domain.QuizSchedule
	for id, sc := range s.schedules {
		if sc.Status != domain.StatusPending || !sc.ScheduledDate.Before(cutoff) {
			continue
		}
		sc.Status = domain.StatusMissed
		s.schedules[id] = sc
		missed = append(missed, sc)
	}
	return missed, nil
}

func (s *ScheduleStore) CompletedAttempts(_ context.Context, f domain.PerformanceFilter) ([]domain.CompletedAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CompletedAttempt
	for _, sc := range s.schedules {
		if sc.UserID != f.UserID || sc.Status != domain.StatusCompleted || sc.CompletedDate == nil || sc.Score == nil {
			continue
		}
		quiz := s.quizzes[sc.QuizID]
		if f.SubjectID != nil && quiz.SubjectID != *f.SubjectID {
			continue
		}
		done := *sc.CompletedDate
		if f.Range.From != nil && done.Before(*f.Range.From) {
			continue
		}
		if f.Range.To != nil && done.After(*f.Range.To) {
			continue
		}
		out = append(out, domain.CompletedAttempt{
			ScheduleID:    sc.ID,
			QuizID:        sc.QuizID,
			SubjectID:     quiz.SubjectID,
			SetNumber:     sc.SetNumber,
			Score:         *sc.Score,
			CompletedAt:   done,
			QuizCreatedAt: quiz.CreatedAt,
		})
	}
	return out, nil
}

// LoadQuizSet lets the store act as the backing loader of a QuizSetRepository.
func (s *ScheduleStore) LoadQuizSet(_ context.Context, quizSetID string) (domain.QuizSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[quizSetID]
	if !ok {
		return domain.QuizSet{}, domain.NotFound("quiz set", quizSetID)
	}
	return set, nil
}
