package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/robin-sci/health-assistant/pkg/models"
)

// streamSSE serializes the orchestrator's events as Server-Sent Events, one
// JSON object per data frame, flushed per event. The stream ends right after
// the terminal event; the channel is drained in case the producer is still
// emitting.
func streamSSE(w http.ResponseWriter, r *http.Request, events <-chan models.StreamEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		select {
		case <-r.Context().Done():
			// Client went away; keep draining so the producer can finish.
			continue
		default:
		}

		frame, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}
}
