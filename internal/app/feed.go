package app

import (
	"sync"

	"quizrevise/internal/domain"
)

// Feed fans schedule events for one user out to live subscribers.
type Feed struct {
	userID      string
	mu          sync.Mutex
	subscribers map[chan domain.ScheduleEvent]struct{}
}

// NewFeed is exported for infrastructure layers that keep feed registries.
func NewFeed(userID string) *Feed {
	return &Feed{
		userID:      userID,
		subscribers: make(map[chan domain.ScheduleEvent]struct{}),
	}
}

// UserID returns the owner of the feed.
func (f *Feed) UserID() string {
	return f.userID
}

// IsIdle reports whether nobody is listening.
func (f *Feed) IsIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers) == 0
}

// Subscribe registers a listener. The cancel func closes its channel.
func (f *Feed) Subscribe() (<-chan domain.ScheduleEvent, func()) {
	ch := make(chan domain.ScheduleEvent, 8)

	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every listener without blocking.
func (f *Feed) Publish(ev domain.ScheduleEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow reader: drop the oldest queued event so publish never blocks.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
