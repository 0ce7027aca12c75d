package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, ChannelForUser("user-1"))
	defer cleanup()

	payload := map[string]string{"notificationId": "batch-1_user-1"}
	if err := dispatcher.Publish(ctx, ChannelForUser("user-1"), EventNewNotification, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case received := <-stream:
		if received.Event != EventNewNotification {
			t.Fatalf("expected event %s, got %s", EventNewNotification, received.Event)
		}
		var decoded map[string]string
		if err := json.Unmarshal(received.Payload, &decoded); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if decoded["notificationId"] != "batch-1_user-1" {
			t.Fatalf("unexpected payload %v", decoded)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
}

func TestDispatcherIsolatedByChannel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, ChannelForUser("user-2"))
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, ChannelForUser("user-3"))
	defer otherCleanup()

	if err := dispatcher.Publish(ctx, ChannelForUser("user-3"), EventVisibilityUpdate, map[string]bool{"visible": false}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-userStream:
		t.Fatal("did not expect realtime message for unrelated channel")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.Channel != ChannelForUser("user-3") {
			t.Fatalf("expected user_user-3, received %s", msg.Channel)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed channel")
	}
}

func TestDispatcherDropsWhenNobodyListens(t *testing.T) {
	dispatcher := NewDispatcher()
	if err := dispatcher.Publish(context.Background(), ChannelForUser("offline"), EventNewNotification, nil); err != nil {
		t.Fatalf("publish to an empty channel must not fail: %v", err)
	}
	if err := dispatcher.Publish(context.Background(), "", EventNewNotification, nil); err == nil {
		t.Fatalf("expected error for empty channel")
	}
}

func TestDispatcherNeverBlocksOnSlowSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, ChannelForUser("slow"))
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < defaultBuffer*4; index++ {
			_ = dispatcher.Publish(ctx, ChannelForUser("slow"), EventNewNotification, index)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestDispatcherCleanupOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Subscribe(ctx, ChannelForUser("user-4"))
	if dispatcher.SubscriberCount(ChannelForUser("user-4")) != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount(ChannelForUser("user-4")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
