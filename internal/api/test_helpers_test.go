package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vocalnews/assistant/internal/agent"
	"github.com/vocalnews/assistant/internal/audio"
	"github.com/vocalnews/assistant/internal/config"
	"github.com/vocalnews/assistant/internal/conversation"
	"github.com/vocalnews/assistant/internal/events"
	"github.com/vocalnews/assistant/internal/llm"
	"github.com/vocalnews/assistant/internal/speech"
	"github.com/vocalnews/assistant/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, session store.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		return value.(*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListSessions(ctx context.Context, userID string) ([]store.Session, error) {
	args := m.Called(ctx, userID)
	var result []store.Session
	if value := args.Get(0); value != nil {
		result = value.([]store.Session)
	}
	return result, args.Error(1)
}

func (m *MockStore) TouchSession(ctx context.Context, sessionID string, at string) error {
	args := m.Called(ctx, sessionID, at)
	return args.Error(0)
}

func (m *MockStore) UpdateSessionAgent(ctx context.Context, sessionID string, agent string, at string) error {
	args := m.Called(ctx, sessionID, agent, at)
	return args.Error(0)
}

func (m *MockStore) DeleteSession(ctx context.Context, sessionID string, userID string) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var result []string
	if value := args.Get(0); value != nil {
		result = value.([]string)
	}
	return result, args.Error(1)
}

func (m *MockStore) AddMessage(ctx context.Context, msg store.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	args := m.Called(ctx, sessionID)
	var result []store.Message
	if value := args.Get(0); value != nil {
		result = value.([]store.Message)
	}
	return result, args.Error(1)
}

func (m *MockStore) GetQueryUsage(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) IncrementQueryUsage(ctx context.Context, userID string, at string) (int, error) {
	args := m.Called(ctx, userID, at)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.SessionEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.SessionEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.SessionEvent); ok {
			return ch
		}
	}
	return nil
}

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages [][]llm.Message
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, append([]llm.Message(nil), messages...))
	return f.reply, f.err
}

func (f *fakeProvider) calls() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	audio []byte
	err   error
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.audio)), nil
}

func (f *fakeSynthesizer) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type failingAudioStore struct{}

func (failingAudioStore) Save(userID string, sessionID string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

func (failingAudioStore) Open(key string) (io.ReadCloser, error) {
	return nil, audio.ErrNotFound
}

type testDeps struct {
	store    store.Store
	broker   Broker
	provider llm.Provider
	speech   speech.Synthesizer
	audio    audio.Store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIServer(deps testDeps, cfg config.Config) *Server {
	if deps.broker == nil {
		deps.broker = events.NewBroker()
	}
	manager := conversation.NewManager(conversation.ManagerConfig{
		Store:    deps.store,
		Catalog:  agent.DefaultCatalog(),
		Provider: deps.provider,
		Logger:   discardLogger(),
	})
	return NewServer(Deps{
		Store:    deps.store,
		Sessions: manager,
		Broker:   deps.broker,
		Speech:   deps.speech,
		Audio:    deps.audio,
		Logger:   discardLogger(),
	}, cfg)
}

func newTestServer(t *testing.T, deps testDeps, cfg config.Config) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(newAPIServer(deps, cfg).Router())
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, server *httptest.Server, method string, path string, userID string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var value T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))
	return value
}
