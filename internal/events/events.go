package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	TypeTurn         = "turn"
	TypeAgentChanged = "agent_changed"
)

const bufferSize = 16

// SessionEvent is published whenever a session gains a turn or changes agent.
type SessionEvent struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Ts        string         `json:"ts"`
	Payload   map[string]any `json:"payload"`
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan SessionEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan SessionEvent]struct{}{},
	}
}

func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan SessionEvent {
	ch := make(chan SessionEvent, bufferSize)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan SessionEvent]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish never blocks. Subscribers with a full buffer miss the event.
func (b *Broker) Publish(event SessionEvent) {
	event.Type = NormalizeType(event.Type)

	// Sends happen under the read lock so a concurrent unsubscribe cannot
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports how many listeners a session currently has.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// WriteSSE writes the event as one Server-Sent Events frame.
func WriteSSE(w io.Writer, event SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}
