package events

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func receiveEvent(t *testing.T, ch <-chan SessionEvent) SessionEvent {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return ev
	case <-timer.C:
		t.Fatal("timed out waiting for event")
	}

	return SessionEvent{}
}

func waitForClosed(t *testing.T, ch <-chan SessionEvent) {
	t.Helper()

	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

func TestSubscribe_Single(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-1")
	if got := b.Subscribers("session-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	waitForClosed(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["session-1"]
	b.mu.RUnlock()
	if exists {
		t.Fatal("subscriber not removed")
	}
}

func TestSubscribe_DifferentSessions(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch1 := b.Subscribe(ctx, "session-1")
	ch2 := b.Subscribe(ctx, "session-2")
	if b.Subscribers("session-1") != 1 || b.Subscribers("session-2") != 1 {
		t.Fatal("subscribers not registered correctly")
	}

	cancel()
	waitForClosed(t, ch1)
	waitForClosed(t, ch2)
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	b.Publish(SessionEvent{SessionID: "session-1"})
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "session-1")
	b.Publish(SessionEvent{SessionID: "session-1", Seq: 1, Type: " TURN "})
	received := receiveEvent(t, ch)
	if received.Type != TypeTurn || received.Seq != 1 {
		t.Fatalf("unexpected event: %+v", received)
	}

	for i := 0; i < bufferSize; i++ {
		b.Publish(SessionEvent{SessionID: "session-1", Seq: int64(i + 2)})
	}
	if len(ch) != bufferSize {
		t.Fatalf("expected full buffer, got %d", len(ch))
	}
	b.Publish(SessionEvent{SessionID: "session-1", Seq: 99})
	if len(ch) != bufferSize {
		t.Fatalf("expected dropped event, got %d", len(ch))
	}

	cancel()
	waitForClosed(t, ch)
}

func TestPublish_FanOut(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx, "session-1")
	ch2 := b.Subscribe(ctx, "session-1")
	other := b.Subscribe(ctx, "session-2")

	b.Publish(SessionEvent{SessionID: "session-1", Seq: 1, Type: TypeTurn})
	_ = receiveEvent(t, ch1)
	_ = receiveEvent(t, ch2)

	select {
	case <-other:
		t.Fatal("unexpected event for different session")
	default:
	}
}

func TestConcurrent_SubscribePublishCancel(t *testing.T) {
	b := NewBroker()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch := b.Subscribe(ctx, "session-1")
			cancel()
			for range ch {
			}
		}()
		go func(seq int) {
			defer wg.Done()
			b.Publish(SessionEvent{SessionID: "session-1", Seq: int64(seq)})
		}(i)
	}
	wg.Wait()

	deadline := time.Now().Add(500 * time.Millisecond)
	for b.Subscribers("session-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected no subscribers, got %d", b.Subscribers("session-1"))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSSE(&buf, SessionEvent{
		SessionID: "s1",
		Seq:       3,
		Type:      TypeTurn,
		Ts:        "2024-01-01T00:00:00Z",
		Payload:   map[string]any{"role": "user"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "id: 3\nevent: turn\ndata: {\"session_id\":\"s1\",\"seq\":3,\"type\":\"turn\",\"ts\":\"2024-01-01T00:00:00Z\",\"payload\":{\"role\":\"user\"}}\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected frame:\n%q\nwant\n%q", buf.String(), want)
	}
}
