package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocalnews/assistant/internal/agent"
	"github.com/vocalnews/assistant/internal/apperr"
	"github.com/vocalnews/assistant/internal/llm"
	"github.com/vocalnews/assistant/internal/news"
)

// ApologyReply is returned in place of a model reply when generation fails.
const ApologyReply = "I apologize, but I encountered an error. Could you please repeat that?"

const (
	DefaultRefreshInterval = 10 * time.Minute
	// keptTurns is how many turns after the system turn survive a refresh.
	keptTurns = 4
)

const (
	NewsPromptTemplate = `News data for the question below:

%s

Question: %s

Answer using only the news data above. If it does not cover the question, say so.`

	NoNewsPromptTemplate = `No news data could be retrieved for the question below.

Question: %s

Tell the user that news data is currently unavailable. Do not make up news.`
)

type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type Retriever interface {
	Retrieve(ctx context.Context, userText string, region news.Region) news.Retrieval
}

type Reply struct {
	Text   string
	Failed bool
	Err    error
	// Turns lists what this call appended. The user turn carries the text as
	// typed, not the prompt built around it.
	Turns []Turn
}

type Options struct {
	Provider        llm.Provider
	Retriever       Retriever
	RefreshInterval time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

type recorder func(ctx context.Context, seq int64, turn Turn) error

// Session is one conversation's in-memory history. Respond and SetAgent are
// serialized per session.
type Session struct {
	mu              sync.Mutex
	id              string
	userID          string
	history         []Turn
	profile         agent.Profile
	lastRefresh     time.Time
	refreshInterval time.Duration
	provider        llm.Provider
	retriever       Retriever
	logger          *slog.Logger
	now             func() time.Time
	record          recorder
	nextSeq         int64
}

func NewSession(id string, profile agent.Profile, opts Options) *Session {
	return newSession(id, profile, nil, opts)
}

func newSession(id string, profile agent.Profile, tail []Turn, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	now := opts.Now()
	history := make([]Turn, 0, 1+len(tail))
	history = append(history, Turn{Role: llm.RoleSystem, Content: profile.SystemPrompt, Timestamp: now})
	history = append(history, tail...)
	return &Session{
		id:              id,
		history:         history,
		profile:         profile,
		lastRefresh:     now,
		refreshInterval: opts.RefreshInterval,
		provider:        opts.Provider,
		retriever:       opts.Retriever,
		logger:          opts.Logger.With("component", "conversation"),
		now:             opts.Now,
		nextSeq:         1,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Agent() agent.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Name
}

// History returns a copy of the turns sent to the model on the next call.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Respond never returns an error: failures come back as ApologyReply with
// Failed set. On failure only the user turn is appended.
func (s *Session) Respond(ctx context.Context, userText string, region news.Region) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastRefresh) > s.refreshInterval {
		s.prune()
		s.lastRefresh = now
	}

	content := userText
	if s.profile.Name == agent.News {
		content = BuildNewsPrompt(userText, s.retrieve(ctx, userText, region))
	}
	s.history = append(s.history, Turn{Role: llm.RoleUser, Content: content, Timestamp: now})
	userTurn := Turn{Role: llm.RoleUser, Content: userText, Timestamp: now}
	s.persist(ctx, userTurn)
	reply := Reply{Turns: []Turn{userTurn}}

	text, err := s.generate(ctx)
	if err != nil {
		s.logger.Warn("model call failed", "session_id", s.id, "kind", apperr.KindOf(err).String(), "error", err)
		reply.Text = ApologyReply
		reply.Failed = true
		reply.Err = err
		return reply
	}

	assistantTurn := Turn{Role: llm.RoleAssistant, Content: text, Timestamp: s.now()}
	s.history = append(s.history, assistantTurn)
	s.persist(ctx, assistantTurn)
	reply.Text = text
	reply.Turns = append(reply.Turns, assistantTurn)
	return reply
}

// SetAgent swaps the system turn. Turns already answered under the previous
// agent stay as they are.
func (s *Session) SetAgent(profile agent.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
	s.history[0] = Turn{Role: llm.RoleSystem, Content: profile.SystemPrompt, Timestamp: s.now()}
}

// BuildNewsPrompt wraps the user's question with retrieved news, or with an
// instruction to report that none was found.
func BuildNewsPrompt(userText string, retrieval news.Retrieval) string {
	if !retrieval.Found {
		return fmt.Sprintf(NoNewsPromptTemplate, userText)
	}
	return fmt.Sprintf(NewsPromptTemplate, retrieval.Text, userText)
}

func (s *Session) prune() {
	tail := s.history[1:]
	if len(tail) > keptTurns {
		tail = tail[len(tail)-keptTurns:]
	}
	pruned := make([]Turn, 0, 1+len(tail))
	pruned = append(pruned, s.history[0])
	s.history = append(pruned, tail...)
}

func (s *Session) retrieve(ctx context.Context, userText string, region news.Region) news.Retrieval {
	if s.retriever == nil {
		return news.Retrieval{Text: news.NoNewsData}
	}
	return s.retriever.Retrieve(ctx, userText, region)
}

func (s *Session) generate(ctx context.Context) (string, error) {
	if s.provider == nil {
		return "", apperr.New(apperr.MalformedInput, "generate", errors.New("no language model configured"))
	}
	messages := make([]llm.Message, len(s.history))
	for i, turn := range s.history {
		messages[i] = llm.Message{Role: turn.Role, Content: turn.Content}
	}
	text, err := s.provider.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.New(apperr.EmptyResult, "generate", errors.New("empty reply"))
	}
	return text, nil
}

func (s *Session) persist(ctx context.Context, turn Turn) {
	if s.record == nil {
		return
	}
	if err := s.record(ctx, s.nextSeq, turn); err != nil {
		s.logger.Error("failed to persist turn", "session_id", s.id, "role", turn.Role, "error", err)
		return
	}
	s.nextSeq++
}
