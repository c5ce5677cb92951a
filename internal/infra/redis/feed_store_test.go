package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizrevise/internal/domain"
)

func TestFeedStoreCrossInstanceDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	listener := NewFeedStore(newClient(mr), nil)
	writer := NewFeedStore(newClient(mr), nil)

	events, cancel, err := listener.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	score := 70
	err = writer.Publish(ctx, domain.ScheduleEvent{
		Type:      domain.EventScheduleCompleted,
		UserID:    "u1",
		Schedules: []domain.ScheduleView{{ScheduleID: "sched-1", SetNumber: 1, Status: domain.StatusCompleted}},
		Score:     &score,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev := nextEvent(t, events)
	if ev.Type != domain.EventScheduleCompleted || ev.Score == nil || *ev.Score != 70 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(ev.Schedules) != 1 || ev.Schedules[0].ScheduleID != "sched-1" {
		t.Fatalf("unexpected schedules %+v", ev.Schedules)
	}
}

func TestFeedStoreSkipsMalformedAndOtherUsers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := newClient(mr)
	store := NewFeedStore(client, nil)

	events, cancel, err := store.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := client.Publish(ctx, channelName("u1"), "not json").Err(); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if err := store.Publish(ctx, domain.ScheduleEvent{Type: domain.EventSchedulesMissed, UserID: "u2"}); err != nil {
		t.Fatalf("publish u2: %v", err)
	}
	if err := store.Publish(ctx, domain.ScheduleEvent{Type: domain.EventSchedulesCreated, UserID: "u1"}); err != nil {
		t.Fatalf("publish u1: %v", err)
	}

	if ev := nextEvent(t, events); ev.Type != domain.EventSchedulesCreated || ev.UserID != "u1" {
		t.Fatalf("expected only the u1 event, got %+v", ev)
	}
}

func TestFeedStoreReleasesSubscriptionWhenIdle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client := newClient(mr)
	store := NewFeedStore(client, nil)

	first, cancelFirst, err := store.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_, cancelSecond, err := store.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	if subscribers(t, client, "u1") != 1 {
		t.Fatalf("expected one redis subscription shared by local listeners")
	}

	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatalf("expected cancelled channel closed")
	}
	if subscribers(t, client, "u1") != 1 {
		t.Fatalf("expected subscription kept while a listener remains")
	}

	cancelSecond()
	store.mu.Lock()
	_, held := store.relays["u1"]
	store.mu.Unlock()
	if held {
		t.Fatalf("expected relay dropped when idle")
	}
	deadline := time.Now().Add(2 * time.Second)
	for subscribers(t, client, "u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected redis subscription closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func nextEvent(t *testing.T, ch <-chan domain.ScheduleEvent) domain.ScheduleEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("feed closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.ScheduleEvent{}
}

func subscribers(t *testing.T, client *redis.Client, userID string) int64 {
	t.Helper()
	counts, err := client.PubSubNumSub(context.Background(), channelName(userID)).Result()
	if err != nil {
		t.Fatalf("pubsub numsub: %v", err)
	}
	return counts[channelName(userID)]
}
