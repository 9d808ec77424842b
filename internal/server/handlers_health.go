package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
	"github.com/robin-sci/health-assistant/pkg/models"
)

func (h *handlers) listLabs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	days := queryInt(r, "days", 90)
	labs, err := h.store.Labs.ListLabs(r.Context(), userID, storage.LabQuery{
		Since:    time.Now().AddDate(0, 0, -days),
		TestName: r.URL.Query().Get("test_name"),
		Limit:    queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, labs)
}

// labTrend reuses the get_lab_trend tool so the REST shape and the
// model-facing shape stay identical.
func (h *handlers) labTrend(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	args, err := json.Marshal(map[string]any{
		"test_name": r.PathValue("test_name"),
		"months":    queryInt(r, "months", 12),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	result := h.registry.Dispatch(tools.WithUser(r.Context(), userID), "get_lab_trend", args)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, result)
}

func (h *handlers) labTestNames(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	names, err := h.store.Labs.TestNames(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *handlers) createSymptom(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID          string   `json:"user_id"`
		SymptomType     string   `json:"symptom_type"`
		Severity        int      `json:"severity"`
		Notes           string   `json:"notes"`
		Triggers        []string `json:"triggers"`
		DurationMinutes *int     `json:"duration_minutes"`
		RecordedAt      string   `json:"recorded_at"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	if strings.TrimSpace(in.SymptomType) == "" {
		writeInvalid(w, "symptom_type is required")
		return
	}
	if in.Severity < 0 || in.Severity > 10 {
		writeInvalid(w, "severity must be between 0 and 10")
		return
	}
	recordedAt := time.Now()
	if in.RecordedAt != "" {
		parsed, err := time.Parse(time.RFC3339, in.RecordedAt)
		if err != nil {
			writeInvalid(w, "recorded_at must be RFC 3339")
			return
		}
		recordedAt = parsed
	}

	entry := &models.SymptomEntry{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		SymptomType:     strings.TrimSpace(in.SymptomType),
		Severity:        in.Severity,
		Notes:           in.Notes,
		Triggers:        in.Triggers,
		DurationMinutes: in.DurationMinutes,
		RecordedAt:      recordedAt,
		CreatedAt:       time.Now(),
	}
	if err := h.store.Symptoms.CreateSymptom(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handlers) listSymptoms(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	days := queryInt(r, "days", 30)
	entries, err := h.store.Symptoms.ListSymptoms(r.Context(), userID, storage.SymptomQuery{
		Since:       time.Now().AddDate(0, 0, -days),
		SymptomType: r.URL.Query().Get("symptom_type"),
		Limit:       queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) symptomTypes(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	types, err := h.store.Symptoms.SymptomTypes(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}
