package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vocalnews/assistant/internal/agent"
	"github.com/vocalnews/assistant/internal/conversation"
	"github.com/vocalnews/assistant/internal/events"
	"github.com/vocalnews/assistant/internal/news"
	"github.com/vocalnews/assistant/internal/store"
)

type chatRequest struct {
	Message    string `json:"message"`
	SessionID  string `json:"session_id"`
	NewsRegion string `json:"news_region"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	// QueriesRemaining is -1 when no limit is configured.
	QueriesRemaining int    `json:"queries_remaining"`
	Agent            string `json:"agent"`
	Failed           bool   `json:"failed,omitempty"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, "message is required", http.StatusBadRequest)
		return
	}
	region, err := news.ParseRegion(req.NewsRegion)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := s.cfg.QueryLimit
	if limit > 0 {
		admitted, err := s.quota.reserve(r.Context(), userID, limit, s.store.GetQueryUsage)
		if err != nil {
			s.logger.Error("failed to read query usage", "user_id", userID, "error", err)
			writeError(w, "failed to read query usage", http.StatusInternalServerError)
			return
		}
		if !admitted {
			writeJSONStatus(w, map[string]any{
				"error":          fmt.Sprintf("Query limit exceeded. You have reached the maximum of %d queries.", limit),
				"limit_exceeded": true,
			}, http.StatusTooManyRequests)
			return
		}
		defer s.quota.release(userID)
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	session, err := s.sessions.Session(ctx, sessionID, userID)
	if err != nil {
		s.writeSessionError(w, sessionID, err)
		return
	}
	reply := session.Respond(ctx, message, region)
	s.publishTurns(sessionID, reply.Turns)

	remaining := -1
	if !reply.Failed {
		count, err := s.store.IncrementQueryUsage(r.Context(), userID, store.Now())
		if err != nil {
			s.logger.Error("failed to record query usage", "user_id", userID, "error", err)
		}
		if limit > 0 {
			remaining = max(limit-count, 0)
		}
	} else if limit > 0 {
		used, _ := s.store.GetQueryUsage(r.Context(), userID)
		remaining = max(limit-used, 0)
	}

	writeJSON(w, chatResponse{
		Response:         reply.Text,
		SessionID:        sessionID,
		QueriesRemaining: remaining,
		Agent:            string(session.Agent()),
		Failed:           reply.Failed,
	})
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type historySession struct {
	SessionID   string           `json:"session_id"`
	Agent       string           `json:"agent"`
	CreatedAt   string           `json:"created_at"`
	LastUpdated string           `json:"last_updated"`
	Messages    []historyMessage `json:"messages"`
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	history, err := store.History(r.Context(), s.store, userID)
	if err != nil {
		s.logger.Error("failed to load chat history", "user_id", userID, "error", err)
		writeError(w, "Failed to load chat history", http.StatusInternalServerError)
		return
	}
	sessions := make([]historySession, 0, len(history))
	for _, entry := range history {
		messages := make([]historyMessage, 0, len(entry.Messages))
		for _, msg := range entry.Messages {
			messages = append(messages, historyMessage{Role: msg.Role, Content: msg.Content, Timestamp: msg.CreatedAt})
		}
		sessions = append(sessions, historySession{
			SessionID:   entry.ID,
			Agent:       entry.Agent,
			CreatedAt:   entry.CreatedAt,
			LastUpdated: entry.LastUpdated,
			Messages:    messages,
		})
	}
	writeJSON(w, map[string]any{"history": sessions})
}

func (s *Server) newChat(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	session, err := s.sessions.Create(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to create chat", "user_id", userID, "error", err)
		writeError(w, "Failed to create new chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"session_id": session.ID, "agent": session.Agent})
}

type deleteChatRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	var req deleteChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		writeError(w, "Session ID is required", http.StatusBadRequest)
		return
	}
	deleted, err := s.sessions.Delete(r.Context(), sessionID, userID)
	if err != nil {
		s.logger.Error("failed to delete chat", "session_id", sessionID, "error", err)
		writeError(w, "Failed to delete chat", http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeError(w, "Chat not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"success": true, "message": "Chat deleted successfully"})
}

func (s *Server) clearChats(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	ids, err := s.sessions.Clear(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to clear chats", "user_id", userID, "error", err)
		writeError(w, "Failed to clear chat history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"message": "All chat history cleared successfully",
		"deleted": len(ids),
	})
}

type setAgentRequest struct {
	Agent string `json:"agent"`
}

func (s *Server) setAgent(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	var req setAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	profile, err := s.sessions.SetAgent(r.Context(), sessionID, userID, req.Agent)
	if err != nil {
		if errors.Is(err, agent.ErrUnknownAgent) {
			writeJSONStatus(w, map[string]any{
				"error":  err.Error(),
				"agents": s.sessions.Catalog().Names(),
			}, http.StatusBadRequest)
			return
		}
		s.writeSessionError(w, sessionID, err)
		return
	}
	s.publish(sessionID, events.TypeAgentChanged, map[string]any{"agent": string(profile.Name)})
	writeJSON(w, map[string]string{"session_id": sessionID, "agent": string(profile.Name)})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	persisted, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if persisted == nil || persisted.UserID != userFromContext(r.Context()) {
		writeError(w, "Chat not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, sessionID)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if err := events.WriteSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, conversation.ErrForbidden) {
		writeError(w, "Chat belongs to another user", http.StatusForbidden)
		return
	}
	s.logger.Error("session unavailable", "session_id", sessionID, "error", err)
	writeError(w, "Failed to load chat", http.StatusInternalServerError)
}

func (s *Server) publishTurns(sessionID string, turns []conversation.Turn) {
	for _, turn := range turns {
		s.publish(sessionID, events.TypeTurn, map[string]any{
			"role":      turn.Role,
			"content":   turn.Content,
			"timestamp": store.FormatTime(turn.Timestamp),
		})
	}
}

func (s *Server) publish(sessionID string, eventType string, payload map[string]any) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.SessionEvent{
		SessionID: sessionID,
		Seq:       time.Now().UnixNano(),
		Type:      eventType,
		Ts:        store.Now(),
		Payload:   payload,
	})
}
