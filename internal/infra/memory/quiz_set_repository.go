package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizrevise/internal/domain"
)

// QuizSetLoader fetches quiz set content from a backing store.
type QuizSetLoader interface {
	LoadQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error)
}

// QuizSetRepository keeps answer keys of recently scored sets in process.
// Entries are private copies: callers may modify what they get back without
// touching the cache. Expired entries are dropped whenever a new set is stored.
type QuizSetRepository struct {
	loader QuizSetLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuizSet
	expiresAt time.Time
}

func NewQuizSetRepository(loader QuizSetLoader, ttl time.Duration) *QuizSetRepository {
	return &QuizSetRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]cachedSet),
	}
}

func (r *QuizSetRepository) GetQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error) {
	if set, ok := r.lookup(quizSetID); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(quizSetID, func() (interface{}, error) {
		if set, ok := r.lookup(quizSetID); ok {
			return set, nil
		}
		set, err := r.loader.LoadQuizSet(ctx, quizSetID)
		if err != nil {
			return domain.QuizSet{}, err
		}
		r.store(set)
		return cloneSet(set), nil
	})
	if err != nil {
		return domain.QuizSet{}, err
	}
	// singleflight hands the same value to every waiter
	return cloneSet(result.(domain.QuizSet)), nil
}

// Len reports how many live entries are cached.
func (r *QuizSetRepository) Len() int {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (r *QuizSetRepository) lookup(quizSetID string) (domain.QuizSet, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[quizSetID]
	if !ok || !e.expiresAt.After(now) {
		return domain.QuizSet{}, false
	}
	return cloneSet(e.set), true
}

func (r *QuizSetRepository) store(set domain.QuizSet) {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if !e.expiresAt.After(now) {
			delete(r.entries, id)
		}
	}
	r.entries[set.ID] = cachedSet{
		set:       cloneSet(set),
		expiresAt: now.Add(jitteredTTL(r.ttl)),
	}
}

// jitteredTTL adds up to 10% so sets loaded together do not expire together.
func jitteredTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl + time.Duration(rand.Int63n(int64(ttl)/10+1))
}

func cloneSet(set domain.QuizSet) domain.QuizSet {
	out := set
	out.Questions = make([]domain.Question, len(set.Questions))
	for i, q := range set.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	return out
}

// StaticQuizSetLoader serves sets from a fixed map.
type StaticQuizSetLoader struct {
	sets map[string]domain.QuizSet
}

func NewStaticQuizSetLoader(sets map[string]domain.QuizSet) *StaticQuizSetLoader {
	return &StaticQuizSetLoader{sets: sets}
}

func (l *StaticQuizSetLoader) LoadQuizSet(_ context.Context, quizSetID string) (domain.QuizSet, error) {
	if set, ok := l.sets[quizSetID]; ok {
		return set, nil
	}
	return domain.QuizSet{}, domain.NotFound("quiz set", quizSetID)
}
