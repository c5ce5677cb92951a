package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizrevise/internal/domain"
)

// QuizSetLoader fetches quiz set content from a backing store.
type QuizSetLoader interface {
	LoadQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error)
}

// QuizSetRepository caches quiz set answer keys in Redis and falls back to a loader on cache miss.
// Answer keys are stored as: HSET quizset:{setID}:answers {questionID} {correctKey}
// Set metadata as:          HSET quizset:{setID}:meta quizId {quizID} setNumber {n}
type QuizSetRepository struct {
	client *redis.Client
	loader QuizSetLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizSetRepository(client *redis.Client, loader QuizSetLoader, ttl time.Duration) *QuizSetRepository {
	return &QuizSetRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *QuizSetRepository) GetQuizSet(ctx context.Context, quizSetID string) (domain.QuizSet, error) {
	if set, ok := r.fromCache(ctx, quizSetID); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(quizSetID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if set, ok := r.fromCache(ctx, quizSetID); ok {
			return set, nil
		}

		set, err := r.loader.LoadQuizSet(ctx, quizSetID)
		if err != nil {
			return domain.QuizSet{}, err
		}

		answerKey := r.answersKey(quizSetID)
		metaKey := r.metaKey(quizSetID)
		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		for _, q := range set.Questions {
			pipe.HSet(ctx, answerKey, q.ID, q.CorrectKey)
		}
		pipe.HSet(ctx, metaKey, "quizId", set.QuizID, "setNumber", set.SetNumber)
		if ttl > 0 {
			pipe.Expire(ctx, answerKey, ttl)
			pipe.Expire(ctx, metaKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return set, nil
	})
	if err != nil {
		return domain.QuizSet{}, err
	}
	return result.(domain.QuizSet), nil
}

func (r *QuizSetRepository) fromCache(ctx context.Context, quizSetID string) (domain.QuizSet, bool) {
	answers, err := r.client.HGetAll(ctx, r.answersKey(quizSetID)).Result()
	if err != nil || len(answers) == 0 {
		return domain.QuizSet{}, false
	}
	meta, _ := r.client.HGetAll(ctx, r.metaKey(quizSetID)).Result()
	return buildSetFromCache(quizSetID, answers, meta), true
}

func (r *QuizSetRepository) answersKey(quizSetID string) string {
	return "quizset:" + quizSetID + ":answers"
}

func (r *QuizSetRepository) metaKey(quizSetID string) string {
	return "quizset:" + quizSetID + ":meta"
}

func buildSetFromCache(quizSetID string, answers map[string]string, meta map[string]string) domain.QuizSet {
	questions := make([]domain.Question, 0, len(answers))
	for questionID, key := range answers {
		questions = append(questions, domain.Question{
			ID:         questionID,
			Prompt:     "", // prompt not cached in this lightweight form
			CorrectKey: key,
		})
	}
	setNumber, _ := strconv.Atoi(meta["setNumber"])
	return domain.QuizSet{
		ID:        quizSetID,
		QuizID:    meta["quizId"],
		SetNumber: setNumber,
		Questions: questions,
	}
}

func (r *QuizSetRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// loads for different sets run concurrently; the package source is locked
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
