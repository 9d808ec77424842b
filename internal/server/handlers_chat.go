package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/robin-sci/health-assistant/internal/chat"
	"github.com/robin-sci/health-assistant/internal/ingest"
	"github.com/robin-sci/health-assistant/internal/llm"
	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
)

type handlers struct {
	chat      *chat.Service
	store     *storage.Store
	registry  *tools.Registry
	inference *llm.Client
	ocr       *ingest.OCRClient
	uploadDir string
	logger    *slog.Logger
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	session, err := h.chat.CreateSession(r.Context(), in.UserID, in.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	sessions, err := h.chat.ListSessions(r.Context(), userID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := h.chat.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := h.chat.Messages(r.Context(), id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":               session.ID,
		"user_id":          session.UserID,
		"title":            session.Title,
		"created_at":       session.CreatedAt,
		"last_activity_at": session.LastActivityAt,
		"messages":         messages,
	})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		writeInvalid(w, "content is required")
		return
	}
	events, err := h.chat.SendMessage(r.Context(), r.PathValue("id"), in.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	streamSSE(w, r, events)
}

func (h *handlers) aiStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"inference": h.inference.HealthCheck(r.Context()),
		"ocr":       probeStatus(h.ocr.HealthCheck(r.Context())),
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func probeStatus(err error) map[string]string {
	if err != nil {
		return map[string]string{"status": "error", "error": err.Error()}
	}
	return map[string]string{"status": "connected"}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
