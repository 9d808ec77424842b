// Package server exposes the REST and SSE surface over the chat
// orchestrator, the document pipeline, and the health data stores.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robin-sci/health-assistant/internal/chat"
	"github.com/robin-sci/health-assistant/internal/ingest"
	"github.com/robin-sci/health-assistant/internal/llm"
	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
)

// Config configures the HTTP server.
type Config struct {
	Addr string
	// UploadDir is where uploaded documents land before ingestion.
	UploadDir string
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Chat      *chat.Service
	Store     *storage.Store
	Registry  *tools.Registry
	Inference *llm.Client
	OCR       *ingest.OCRClient
	Logger    *slog.Logger
	// Gatherer backs the /metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		chat:      deps.Chat,
		store:     deps.Store,
		registry:  deps.Registry,
		inference: deps.Inference,
		ocr:       deps.OCR,
		uploadDir: cfg.UploadDir,
		logger:    logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat/sessions", h.createSession)
	mux.HandleFunc("GET /chat/sessions", h.listSessions)
	mux.HandleFunc("GET /chat/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /chat/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /chat/sessions/{id}/messages", h.sendMessage)

	mux.HandleFunc("POST /documents/upload", h.uploadDocument)
	mux.HandleFunc("GET /documents", h.listDocuments)
	mux.HandleFunc("GET /documents/{id}", h.getDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.deleteDocument)

	mux.HandleFunc("GET /labs", h.listLabs)
	mux.HandleFunc("GET /labs/trends/{test_name}", h.labTrend)
	mux.HandleFunc("GET /labs/test-names", h.labTestNames)

	mux.HandleFunc("POST /symptoms", h.createSymptom)
	mux.HandleFunc("GET /symptoms", h.listSymptoms)
	mux.HandleFunc("GET /symptoms/types", h.symptomTypes)

	mux.HandleFunc("GET /ai/status", h.aiStatus)
	mux.HandleFunc("GET /healthz", h.healthz)

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           requestLog(logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
