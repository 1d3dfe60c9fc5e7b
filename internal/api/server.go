package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vocalnews/assistant/internal/audio"
	"github.com/vocalnews/assistant/internal/config"
	"github.com/vocalnews/assistant/internal/conversation"
	"github.com/vocalnews/assistant/internal/events"
	"github.com/vocalnews/assistant/internal/speech"
	"github.com/vocalnews/assistant/internal/store"
)

// UserHeader carries the authenticated user id set by the fronting auth layer.
const UserHeader = "X-User-ID"

type Server struct {
	store    store.Store
	sessions *conversation.Manager
	broker   Broker
	speech   speech.Synthesizer
	audio    audio.Store
	quota    *quotaGate
	cfg      config.Config
	logger   *slog.Logger
}

type Broker interface {
	Publish(event events.SessionEvent)
	Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent
}

type Deps struct {
	Store    store.Store
	Sessions *conversation.Manager
	Broker   Broker
	Speech   speech.Synthesizer
	// Audio is optional. Without it /speak answers with a data URL.
	Audio  audio.Store
	Logger *slog.Logger
}

func NewServer(deps Deps, cfg config.Config) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		store:    deps.Store,
		sessions: deps.Sessions,
		broker:   deps.Broker,
		speech:   deps.Speech,
		audio:    deps.Audio,
		quota:    newQuotaGate(),
		cfg:      cfg,
		logger:   deps.Logger.With("component", "api"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Get("/audio/*", s.serveAudio)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/chat", s.chat)
		r.Get("/chat/history", s.chatHistory)
		r.Post("/chat/new", s.newChat)
		r.Delete("/chat/delete", s.deleteChat)
		r.Delete("/chat/clear-all", s.clearChats)
		r.Put("/chat/{id}/agent", s.setAgent)
		r.Get("/chat/{id}/events", s.streamEvents)
		r.Post("/speak", s.speak)
	})

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, "User not authenticated", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.speech == nil {
		subsystems["speech"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["speech"] = subsystemStatus{Status: "ok"}
	}
	if s.audio == nil {
		subsystems["audio_storage"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["audio_storage"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, map[string]string{"error": message}, statusCode)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, "+UserHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
