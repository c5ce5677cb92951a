package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quizrevise/internal/app"
	"quizrevise/internal/domain"
)

// FeedStore carries schedule events over Redis pub/sub so a completion
// handled by one instance reaches listeners connected to any other.
// Each instance holds one channel subscription per user with local
// listeners and fans received events out through an app.Feed.
type FeedStore struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	relays map[string]*relay
}

type relay struct {
	feed   *app.Feed
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewFeedStore(client *redis.Client, logger *zap.Logger) *FeedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedStore{
		client: client,
		logger: logger,
		relays: make(map[string]*relay),
	}
}

// Subscribe joins the user's channel. It returns after Redis confirms the
// subscription, so events published afterwards are not missed.
func (s *FeedStore) Subscribe(ctx context.Context, userID string) (<-chan domain.ScheduleEvent, func(), error) {
	s.mu.Lock()
	r, ok := s.relays[userID]
	if !ok {
		pubsub := s.client.Subscribe(ctx, channelName(userID))
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			s.mu.Unlock()
			return nil, nil, domain.Persistence("subscribe feed", err)
		}
		r = &relay{
			feed:   app.NewFeed(userID),
			pubsub: pubsub,
			done:   make(chan struct{}),
		}
		s.relays[userID] = r
		go s.forward(r, pubsub.Channel())
	}
	ch, cancel := r.feed.Subscribe()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			s.release(userID, r)
		})
	}, nil
}

// Publish sends ev on the owner's channel. Local listeners receive it back
// through their relay like everyone else.
func (s *FeedStore) Publish(ctx context.Context, ev domain.ScheduleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.Persistence("encode schedule event", err)
	}
	if err := s.client.Publish(ctx, channelName(ev.UserID), payload).Err(); err != nil {
		return domain.Persistence("publish schedule event", err)
	}
	return nil
}

func (s *FeedStore) forward(r *relay, messages <-chan *redis.Message) {
	defer close(r.done)
	for msg := range messages {
		var ev domain.ScheduleEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.Warn("dropping malformed schedule event",
				zap.String("channel", msg.Channel),
				zap.Error(err))
			continue
		}
		r.feed.Publish(ev)
	}
}

func (s *FeedStore) release(userID string, r *relay) {
	s.mu.Lock()
	current, ok := s.relays[userID]
	if !ok || current != r || !r.feed.IsIdle() {
		s.mu.Unlock()
		return
	}
	delete(s.relays, userID)
	s.mu.Unlock()

	if err := r.pubsub.Close(); err != nil {
		s.logger.Debug("close feed subscription", zap.String("user_id", userID), zap.Error(err))
	}
	<-r.done
}

func channelName(userID string) string {
	return "quizrevise:feed:" + userID
}
