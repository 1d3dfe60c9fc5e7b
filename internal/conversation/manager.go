package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalnews/assistant/internal/agent"
	"github.com/vocalnews/assistant/internal/llm"
	"github.com/vocalnews/assistant/internal/news"
	"github.com/vocalnews/assistant/internal/store"
)

const DefaultHistoryWindow = 4

var ErrForbidden = errors.New("session belongs to another user")

type ManagerConfig struct {
	Store           store.Store
	Catalog         agent.Catalog
	Provider        llm.Provider
	Retriever       Retriever
	Logger          *slog.Logger
	RefreshInterval time.Duration
	// HistoryWindow is how many persisted turns are restored when a session
	// is loaded from the store.
	HistoryWindow int
	Now           func() time.Time
}

// Manager owns the in-memory projection of every active session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    store.Store
	catalog  agent.Catalog
	opts     Options
	window   int
	logger   *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Manager{
		sessions: map[string]*Session{},
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		opts: Options{
			Provider:        cfg.Provider,
			Retriever:       cfg.Retriever,
			RefreshInterval: cfg.RefreshInterval,
			Logger:          cfg.Logger,
			Now:             cfg.Now,
		},
		window: cfg.HistoryWindow,
		logger: cfg.Logger.With("component", "conversation"),
	}
}

func (m *Manager) Catalog() agent.Catalog {
	return m.catalog
}

// Create persists a new general session for userID.
func (m *Manager) Create(ctx context.Context, userID string) (store.Session, error) {
	now := store.FormatTime(m.opts.Now())
	session := store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Agent:       string(agent.General),
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Session returns the live session, loading it from the store on first
// access. Unknown ids are created for userID.
func (m *Manager) Session(ctx context.Context, sessionID string, userID string) (*Session, error) {
	m.mu.Lock()
	existing, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		if existing.userID != userID {
			return nil, ErrForbidden
		}
		return existing, nil
	}

	loaded, err := m.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if raced, ok := m.sessions[sessionID]; ok {
		if raced.userID != userID {
			return nil, ErrForbidden
		}
		return raced, nil
	}
	m.sessions[sessionID] = loaded
	return loaded, nil
}

func (m *Manager) Respond(ctx context.Context, sessionID string, userID string, userText string, region news.Region) (Reply, error) {
	session, err := m.Session(ctx, sessionID, userID)
	if err != nil {
		return Reply{}, err
	}
	return session.Respond(ctx, userText, region), nil
}

// SetAgent switches the session's agent and records the choice.
func (m *Manager) SetAgent(ctx context.Context, sessionID string, userID string, name string) (agent.Profile, error) {
	profile, err := m.catalog.Get(name)
	if err != nil {
		return agent.Profile{}, err
	}
	session, err := m.Session(ctx, sessionID, userID)
	if err != nil {
		return agent.Profile{}, err
	}
	session.SetAgent(profile)
	if err := m.store.UpdateSessionAgent(ctx, sessionID, string(profile.Name), store.FormatTime(m.opts.Now())); err != nil {
		return agent.Profile{}, fmt.Errorf("update session agent: %w", err)
	}
	return profile, nil
}

func (m *Manager) Delete(ctx context.Context, sessionID string, userID string) (bool, error) {
	deleted, err := m.store.DeleteSession(ctx, sessionID, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.Forget(sessionID)
	}
	return deleted, nil
}

func (m *Manager) Clear(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		m.Forget(id)
	}
	return ids, nil
}

// Forget drops the in-memory projection. The next access reloads it.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) load(ctx context.Context, sessionID string, userID string) (*Session, error) {
	persisted, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if persisted == nil {
		persisted, err = m.create(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
	}
	if persisted.UserID != userID {
		return nil, ErrForbidden
	}

	profile, err := m.catalog.Get(persisted.Agent)
	if err != nil {
		m.logger.Warn("unknown persisted agent, using general", "session_id", sessionID, "agent", persisted.Agent)
		profile = m.catalog.MustGet(agent.General)
	}

	messages, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	var lastSeq int64
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.Sequence > lastSeq {
			lastSeq = msg.Sequence
		}
		if msg.Role == llm.RoleSystem {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content, Timestamp: store.ParseTime(msg.CreatedAt)})
	}
	if len(turns) > m.window {
		turns = turns[len(turns)-m.window:]
	}

	session := newSession(sessionID, profile, turns, m.opts)
	session.userID = userID
	session.nextSeq = lastSeq + 1
	session.record = m.recorder(session)
	return session, nil
}

// create inserts the session and reads it back. CreateSession ignores an id
// that already exists, so the stored owner may differ from userID when two
// users pick the same new id at once.
func (m *Manager) create(ctx context.Context, sessionID string, userID string) (*store.Session, error) {
	now := store.FormatTime(m.opts.Now())
	candidate := store.Session{
		ID:          sessionID,
		UserID:      userID,
		Agent:       string(agent.General),
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := m.store.CreateSession(ctx, candidate); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	stored, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("create session: %s not found after insert", sessionID)
	}
	return stored, nil
}

func (m *Manager) recorder(session *Session) recorder {
	return func(ctx context.Context, seq int64, turn Turn) error {
		at := store.FormatTime(turn.Timestamp)
		err := m.store.AddMessage(ctx, store.Message{
			ID:        uuid.NewString(),
			SessionID: session.id,
			Role:      turn.Role,
			Content:   turn.Content,
			Sequence:  seq,
			CreatedAt: at,
			// Called with the session lock held, so profile is stable.
			Metadata: map[string]any{"agent": string(session.profile.Name)},
		})
		if err != nil {
			return err
		}
		// The message is stored at this point, so the sequence must advance
		// even when the timestamp update fails.
		if err := m.store.TouchSession(ctx, session.id, at); err != nil {
			m.logger.Warn("failed to touch session", "session_id", session.id, "error", err)
		}
		return nil
	}
}
