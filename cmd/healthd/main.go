// Package main provides the CLI entry point for the health assistant
// service: a self-hosted, tool-grounded chat assistant over personal health
// data with an asynchronous document ingestion pipeline.
//
// # Basic Usage
//
// Start the server:
//
//	healthd serve --config healthd.yaml
//
// Check backend connectivity:
//
//	healthd status
//
// Print the database schema:
//
//	healthd schema
//
// # Environment Variables
//
//   - INFERENCE_HOST: inference server URL (default: http://localhost:11434)
//   - INFERENCE_CHAT_MODEL: model for the chat tool loop
//   - INFERENCE_EXTRACTION_MODEL: model for document extraction
//   - INFERENCE_TIMEOUT_SECONDS: per-request inference timeout
//   - OCR_SERVICE_URL: document-parsing sidecar URL
//   - STORE_URL: Postgres DSN; empty selects the in-memory store
//   - UPLOAD_DIR: directory for uploaded documents
//   - TIMEZONE: IANA zone for calendar-day bucketing
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robin-sci/health-assistant/internal/chat"
	"github.com/robin-sci/health-assistant/internal/config"
	"github.com/robin-sci/health-assistant/internal/ingest"
	"github.com/robin-sci/health-assistant/internal/llm"
	"github.com/robin-sci/health-assistant/internal/metrics"
	"github.com/robin-sci/health-assistant/internal/server"
	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
	"github.com/robin-sci/health-assistant/internal/tools/health"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "healthd",
		Short:   "Self-hosted personal health assistant",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("HEALTHD_CONFIG"), "path to YAML config file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildStatusCmd(&configPath),
		buildSchemaCmd(),
	)
	return rootCmd
}

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the ingestion worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	inference := llm.NewClient(llm.Config{
		BaseURL:         cfg.Inference.Host,
		Timeout:         cfg.Inference.Timeout(),
		ChatModel:       cfg.Inference.ChatModel,
		ExtractionModel: cfg.Inference.ExtractionModel,
	})
	ocr := ingest.NewOCRClient(ingest.OCRConfig{BaseURL: cfg.OCR.URL})

	registry := tools.NewRegistry()
	health.RegisterAll(registry, health.Deps{Store: store, Loc: loc})

	chatSvc := chat.NewService(store, inference, registry, chat.Config{
		Model: cfg.Inference.ChatModel,
	}, logger, m)

	extractor := ingest.NewExtractor(inference, cfg.Inference.ExtractionModel, logger)
	pipeline := ingest.NewPipeline(store, ocr, extractor, logger, m)
	worker := ingest.NewWorker(store.Queue, pipeline, cfg.Ingest.Workers, logger)

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr,
		UploadDir: cfg.Ingest.UploadDir,
	}, server.Deps{
		Chat:      chatSvc,
		Store:     store,
		Registry:  registry,
		Inference: inference,
		OCR:       ocr,
		Logger:    logger,
		Gatherer:  promReg,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(srv.ListenAndServe)

	logger.Info("healthd started",
		"addr", cfg.Server.Addr,
		"chat_model", cfg.Inference.ChatModel,
		"workers", cfg.Ingest.Workers)

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	if cfg.Store.URL == "" {
		slog.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(cfg.Store.URL, storage.DefaultPostgresConfig())
}

func buildStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe the inference server and the OCR sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			inference := llm.NewClient(llm.Config{
				BaseURL:         cfg.Inference.Host,
				ChatModel:       cfg.Inference.ChatModel,
				ExtractionModel: cfg.Inference.ExtractionModel,
			})
			ocr := ingest.NewOCRClient(ingest.OCRConfig{BaseURL: cfg.OCR.URL})

			printInferenceStatus(cmd, cfg.Inference.Host, inference.HealthCheck(cmd.Context()))
			printProbe(cmd, "ocr", cfg.OCR.URL, ocr.HealthCheck(cmd.Context()))
			return nil
		},
	}
}

func printInferenceStatus(cmd *cobra.Command, host string, status llm.HealthStatus) {
	if !status.Reachable {
		cmd.Printf("%-10s %s  ERROR: %s\n", "inference", host, status.Error)
		return
	}
	cmd.Printf("%-10s %s  OK\n", "inference", host)
	cmd.Printf("%-10s installed: %s\n", "", strings.Join(status.InstalledModels, ", "))
	cmd.Printf("%-10s chat model %s (available: %v), extraction model %s (available: %v)\n", "",
		status.ConfiguredChatModel, status.ChatModelAvailable,
		status.ConfiguredExtractionModel, status.ExtractionModelAvailable)
}

func printProbe(cmd *cobra.Command, name, host string, err error) {
	if err != nil {
		cmd.Printf("%-10s %s  ERROR: %v\n", name, host, err)
		return
	}
	cmd.Printf("%-10s %s  OK\n", name, host)
}

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the Postgres schema DDL",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(storage.Schema)
		},
	}
}
