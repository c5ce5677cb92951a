package memory

import (
	"context"
	"testing"
	"time"

	"quizrevise/internal/domain"
)

func TestFeedStoreDeliversToListeners(t *testing.T) {
	store := NewFeedStore()
	ctx := context.Background()

	first, cancelFirst, err := store.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, cancelSecond, err := store.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	other, cancelOther, err := store.Subscribe(ctx, "u2")
	if err != nil {
		t.Fatalf("subscribe u2: %v", err)
	}
	defer cancelOther()

	ev := domain.ScheduleEvent{Type: domain.EventScheduleCompleted, UserID: "u1"}
	if err := store.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, ch := range []<-chan domain.ScheduleEvent{first, second} {
		select {
		case got := <-ch:
			if got.Type != domain.EventScheduleCompleted {
				t.Fatalf("listener %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d got nothing", i)
		}
	}
	select {
	case got := <-other:
		t.Fatalf("u2 received u1 event %+v", got)
	default:
	}

	cancelFirst()
	if !store.Listening("u1") {
		t.Fatalf("expected feed kept while a listener remains")
	}
	cancelSecond()
	cancelSecond()
	if store.Listening("u1") {
		t.Fatalf("expected feed removed when idle")
	}
	if _, ok := <-first; ok {
		t.Fatalf("expected cancelled channel closed")
	}
}

func TestFeedStorePublishWithoutListeners(t *testing.T) {
	store := NewFeedStore()
	if err := store.Publish(context.Background(), domain.ScheduleEvent{UserID: "nobody"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if store.Listening("nobody") {
		t.Fatalf("publish must not create feeds")
	}
}
