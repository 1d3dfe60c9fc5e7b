package store

import (
	"context"
	"errors"
	"time"
)

// Timestamps cross the store boundary as RFC3339Nano strings in UTC.
const TimeLayout = time.RFC3339Nano

// ErrDuplicateSequence is returned by stores that check (session, sequence)
// uniqueness in Go rather than through a schema constraint.
var ErrDuplicateSequence = errors.New("message sequence already recorded")

type Session struct {
	ID          string
	UserID      string
	Agent       string
	CreatedAt   string
	LastUpdated string
}

type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Sequence  int64
	CreatedAt string
	Metadata  map[string]any
}

// SessionHistory is a session together with its messages in sequence order.
type SessionHistory struct {
	Session
	Messages []Message
}

type Store interface {
	CreateSession(ctx context.Context, session Session) error
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// ListSessions returns the user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	TouchSession(ctx context.Context, sessionID string, at string) error
	UpdateSessionAgent(ctx context.Context, sessionID string, agent string, at string) error
	// DeleteSession reports whether a session owned by userID was removed.
	DeleteSession(ctx context.Context, sessionID string, userID string) (bool, error)
	DeleteUserSessions(ctx context.Context, userID string) ([]string, error)
	AddMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	GetQueryUsage(ctx context.Context, userID string) (int, error)
	// IncrementQueryUsage adds one to the user's counter and returns the new total.
	IncrementQueryUsage(ctx context.Context, userID string, at string) (int, error)
	Ping(ctx context.Context) error
}

func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime returns the zero time for values that do not parse.
func ParseTime(value string) time.Time {
	parsed, err := time.Parse(TimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// History pairs each session with its messages.
func History(ctx context.Context, s Store, userID string) ([]SessionHistory, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	history := make([]SessionHistory, 0, len(sessions))
	for _, session := range sessions {
		messages, err := s.ListMessages(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		history = append(history, SessionHistory{Session: session, Messages: messages})
	}
	return history, nil
}
