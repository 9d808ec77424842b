package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robin-sci/health-assistant/internal/metrics"
	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

const (
	// overallTimeout bounds one document's full pipeline run.
	overallTimeout = 10 * time.Minute
	parseTimeout   = 2 * time.Minute
	extractTimeout = 3 * time.Minute
)

// Pipeline drives one document through parsing, extraction, validation, and
// persistence.
type Pipeline struct {
	store     *storage.Store
	ocr       *OCRClient
	extractor *Extractor
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewPipeline creates the stage driver. metrics may be nil.
func NewPipeline(store *storage.Store, ocr *OCRClient, extractor *Extractor, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		ocr:       ocr,
		extractor: extractor,
		logger:    logger,
		metrics:   m,
	}
}

type ingestSummary struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Dropped int `json:"dropped"`
}

type ingestFailure struct {
	Error string `json:"error"`
	Stage string `json:"stage"`
}

// Process runs the pipeline for one claimed job. A document that is not in
// uploading or parsing state on entry is someone else's work (or already
// done) and is left alone. Returns the error that failed the document, or
// nil.
func (p *Pipeline) Process(ctx context.Context, job *storage.IngestJob) error {
	ctx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	doc, err := p.store.Documents.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", job.DocumentID, err)
	}
	if doc.Status != models.DocumentUploading && doc.Status != models.DocumentParsing {
		p.logger.Info("document already past parsing, skipping job",
			"document_id", doc.ID,
			"status", doc.Status)
		return nil
	}

	if doc.Status == models.DocumentUploading {
		if err := p.store.Documents.SetStatus(ctx, doc.ID, models.DocumentParsing, storage.DocumentUpdate{}); err != nil {
			return fmt.Errorf("enter parsing: %w", err)
		}
	}

	rawText, err := p.parseStage(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc.ID, "parsing", err)
	}
	if err := p.store.Documents.SetStatus(ctx, doc.ID, models.DocumentParsed, storage.DocumentUpdate{RawText: &rawText}); err != nil {
		return fmt.Errorf("enter parsed: %w", err)
	}
	if err := p.store.Documents.SetStatus(ctx, doc.ID, models.DocumentExtracting, storage.DocumentUpdate{}); err != nil {
		return fmt.Errorf("enter extracting: %w", err)
	}

	labs, dropped, err := p.extractStage(ctx, rawText)
	if err != nil {
		return p.fail(ctx, doc.ID, "extracting", err)
	}

	summary := ingestSummary{Dropped: dropped}
	for _, lab := range labs {
		lab.UserID = doc.UserID
		lab.DocumentID = doc.ID
		lab.CreatedAt = time.Now()
		inserted, err := p.store.Labs.InsertLab(ctx, lab)
		if err != nil {
			return p.fail(ctx, doc.ID, "persisting", err)
		}
		if inserted {
			summary.Saved++
		} else {
			summary.Skipped++
		}
	}

	parsed, err := json.Marshal(summary)
	if err != nil {
		return p.fail(ctx, doc.ID, "persisting", err)
	}
	if err := p.store.Documents.SetStatus(ctx, doc.ID, models.DocumentCompleted, storage.DocumentUpdate{ParsedData: parsed}); err != nil {
		return fmt.Errorf("enter completed: %w", err)
	}

	p.metrics.ObserveIngestJob("completed")
	p.logger.Info("document ingested",
		"document_id", doc.ID,
		"saved", summary.Saved,
		"skipped", summary.Skipped,
		"dropped", summary.Dropped)
	return nil
}

func (p *Pipeline) parseStage(ctx context.Context, doc *models.MedicalDocument) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, parseTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.ocr.Parse(ctx, doc.FilePath)
	p.metrics.ObserveStage("parsing", time.Since(start).Seconds())
	return text, err
}

func (p *Pipeline) extractStage(ctx context.Context, rawText string) ([]*models.LabResult, int, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	start := time.Now()
	labs, dropped, err := p.extractor.Extract(ctx, rawText)
	p.metrics.ObserveStage("extracting", time.Since(start).Seconds())
	return labs, dropped, err
}

// fail moves the document to failed with stage diagnostics and returns the
// original error for the job record.
func (p *Pipeline) fail(ctx context.Context, docID, stage string, cause error) error {
	p.logger.Error("ingestion stage failed",
		"document_id", docID,
		"stage", stage,
		"error", cause)
	p.metrics.ObserveIngestJob("failed")

	diag, err := json.Marshal(ingestFailure{Error: cause.Error(), Stage: stage})
	if err != nil {
		diag = json.RawMessage(`{"error":"unknown"}`)
	}
	// Best effort off the (possibly expired) stage context.
	failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.Documents.SetStatus(failCtx, docID, models.DocumentFailed, storage.DocumentUpdate{ParsedData: diag}); err != nil {
		p.logger.Error("mark document failed", "document_id", docID, "error", err)
	}
	return fmt.Errorf("%s: %w", stage, cause)
}
