package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vocalnews/assistant/internal/audio"
	"github.com/vocalnews/assistant/internal/speech"
)

type speakRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type speakResponse struct {
	Success   bool   `json:"success"`
	AudioURL  string `json:"audio_url,omitempty"`
	AudioData string `json:"audio_data,omitempty"`
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, "No text provided", http.StatusBadRequest)
		return
	}
	if s.speech == nil {
		writeError(w, "speech is not configured", http.StatusServiceUnavailable)
		return
	}

	data, err := speech.Collect(r.Context(), s.speech, text)
	if err != nil {
		s.logger.Error("speech synthesis failed", "user_id", userID, "session_id", req.SessionID, "error", err)
		writeError(w, "Failed to generate audio", http.StatusBadGateway)
		return
	}

	if s.audio == nil {
		writeJSON(w, speakResponse{Success: true, AudioData: audio.DataURL(data)})
		return
	}
	key, err := s.audio.Save(userID, req.SessionID, data)
	if err != nil {
		s.logger.Error("failed to store audio", "user_id", userID, "error", err)
		writeError(w, "Failed to store audio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, speakResponse{
		Success:  true,
		AudioURL: strings.TrimRight(s.cfg.BaseURL, "/") + "/audio/" + key,
	})
}

func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		writeError(w, "audio not found", http.StatusNotFound)
		return
	}
	rc, err := s.audio.Open(chi.URLParam(r, "*"))
	if err != nil {
		if errors.Is(err, audio.ErrNotFound) {
			writeError(w, "audio not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to open audio", "error", err)
		writeError(w, "failed to open audio", http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
