package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
)

func receiveWithin(t *testing.T, stream <-chan RealtimeMessage, wait time.Duration) (RealtimeMessage, bool) {
	t.Helper()
	select {
	case message := <-stream:
		return message, true
	case <-time.After(wait):
		return RealtimeMessage{}, false
	}
}

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-1",
		EventType: RealtimeEventMediaUnlocked,
		MediaID:   "finale",
	})

	received, ok := receiveWithin(t, stream, 500*time.Millisecond)
	if !ok {
		t.Fatal("expected realtime message within deadline")
	}
	if received.EventType != RealtimeEventMediaUnlocked || received.MediaID != "finale" {
		t.Fatalf("unexpected message: %+v", received)
	}
	if received.Timestamp.IsZero() {
		t.Fatalf("expected publish to stamp the message")
	}
}

func TestRealtimeDispatcherIsolatedByUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{UserID: "user-3", EventType: RealtimeEventLevelUp, Level: 2})

	if _, ok := receiveWithin(t, userStream, 200*time.Millisecond); ok {
		t.Fatal("did not expect realtime message for unrelated user")
	}
	message, ok := receiveWithin(t, otherStream, 500*time.Millisecond)
	if !ok || message.UserID != "user-3" {
		t.Fatalf("expected message for user-3, got %+v", message)
	}
}

func TestRealtimeDispatcherPublishesOnlyLevelUps(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx, "user-4")
	defer cleanup()

	sameLevel := progression.Award{UserID: "user-4", Awarded: 50, XP: 50, PreviousLevel: 1, Level: 1}
	dispatcher.ActivityRecorded(activity.Result{Award: &sameLevel})
	dispatcher.ActivityRecorded(activity.Result{Duplicate: true})
	if message, ok := receiveWithin(t, stream, 200*time.Millisecond); ok {
		t.Fatalf("did not expect a message without a level change, got %+v", message)
	}

	levelUp := progression.Award{UserID: "user-4", Awarded: 500, XP: 20100, PreviousLevel: 1, Level: 2}
	dispatcher.ActivityRecorded(activity.Result{Award: &levelUp})
	message, ok := receiveWithin(t, stream, 500*time.Millisecond)
	if !ok || message.EventType != RealtimeEventLevelUp || message.Level != 2 || message.XP != 20100 {
		t.Fatalf("expected level-up to level 2, got %+v", message)
	}

	dispatcher.PublishDecision("user-4", "finale", unlocks.Decision{Unlocked: true, AlreadyUnlocked: true})
	if message, ok := receiveWithin(t, stream, 200*time.Millisecond); ok {
		t.Fatalf("did not expect a message for an earlier unlock, got %+v", message)
	}
}

func TestRealtimeDispatcherReleasesSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "user-5")
	_, _ = dispatcher.Subscribe(ctx, "user-5")
	if count := dispatcher.subscriberCount("user-5"); count != 2 {
		t.Fatalf("expected two subscribers, got %d", count)
	}

	cleanup()
	cleanup()
	if count := dispatcher.subscriberCount("user-5"); count != 1 {
		t.Fatalf("expected one subscriber after cleanup, got %d", count)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.subscriberCount("user-5") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected context cancellation to release the subscriber")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
