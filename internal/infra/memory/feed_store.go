package memory

import (
	"context"
	"sync"

	"quizrevise/internal/app"
	"quizrevise/internal/domain"
)

// FeedStore routes schedule events between listeners of a single process.
// A user's feed exists only while someone listens; events for users without
// listeners are dropped.
type FeedStore struct {
	mu    sync.Mutex
	feeds map[string]*app.Feed
}

func NewFeedStore() *FeedStore {
	return &FeedStore{feeds: make(map[string]*app.Feed)}
}

func (s *FeedStore) Subscribe(_ context.Context, userID string) (<-chan domain.ScheduleEvent, func(), error) {
	s.mu.Lock()
	feed, ok := s.feeds[userID]
	if !ok {
		feed = app.NewFeed(userID)
		s.feeds[userID] = feed
	}
	ch, cancel := feed.Subscribe()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			s.release(userID, feed)
		})
	}, nil
}

func (s *FeedStore) Publish(_ context.Context, ev domain.ScheduleEvent) error {
	s.mu.Lock()
	feed, ok := s.feeds[ev.UserID]
	s.mu.Unlock()
	if ok {
		feed.Publish(ev)
	}
	return nil
}

// Listening reports whether userID has a live feed.
func (s *FeedStore) Listening(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeds[userID]
	return ok
}

func (s *FeedStore) release(userID string, feed *app.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.feeds[userID]; ok && current == feed && feed.IsIdle() {
		delete(s.feeds, userID)
	}
}
