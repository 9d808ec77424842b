package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

func newTestPipeline(t *testing.T, store *storage.Store, ocrURL string, chatter *fakeChatter) *Pipeline {
	t.Helper()
	ocr := NewOCRClient(OCRConfig{BaseURL: ocrURL})
	return NewPipeline(store, ocr, newTestExtractor(chatter), nil, nil)
}

func seedDocument(t *testing.T, store *storage.Store, filePath string) *models.MedicalDocument {
	t.Helper()
	doc := &models.MedicalDocument{
		ID:           "d1",
		UserID:       "u1",
		Title:        "Blood panel",
		DocumentType: models.DocumentLabReport,
		FilePath:     filePath,
		FileType:     "pdf",
		Status:       models.DocumentUploading,
		CreatedAt:    time.Now(),
	}
	if err := store.Documents.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func ocrServer(t *testing.T, markdown string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"documents":[{"md_content":%q}]}`, markdown)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessHappyPath(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// One of the extracted rows duplicates an existing lab on the same day.
	existing := &models.LabResult{
		ID: "seed", UserID: "u1", TestName: "Glucose", Value: 90, Unit: "mg/dL",
		RecordedAt: time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
	}
	if _, err := store.Labs.InsertLab(ctx, existing); err != nil {
		t.Fatalf("seed lab: %v", err)
	}

	srv := ocrServer(t, "# Lab Report")
	chatter := &fakeChatter{replies: []string{`{
		"lab_results": [
			{"test_name": "Hemoglobin", "value": 14.2, "unit": "g/dL", "recorded_at": "2026-05-20"},
			{"test_name": "Glucose", "value": 95, "unit": "mg/dL", "recorded_at": "2026-05-20"},
			{"test_name": "Broken", "value": "nope", "unit": "x", "recorded_at": "2026-05-20"}
		]
	}`}}
	p := newTestPipeline(t, store, srv.URL, chatter)
	doc := seedDocument(t, store, writeTempDoc(t, "pdf bytes"))

	if err := p.Process(ctx, &storage.IngestJob{ID: "j1", DocumentID: doc.ID, UserID: "u1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := store.Documents.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != models.DocumentCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.RawText != "# Lab Report" {
		t.Errorf("RawText = %q", got.RawText)
	}

	var summary ingestSummary
	if err := json.Unmarshal(got.ParsedData, &summary); err != nil {
		t.Fatalf("parsed_data = %s: %v", got.ParsedData, err)
	}
	if summary.Saved != 1 || summary.Skipped != 1 || summary.Dropped != 1 {
		t.Errorf("summary = %+v, want saved 1, skipped 1, dropped 1", summary)
	}

	// The duplicate must not have overwritten the original value.
	labs, err := store.Labs.ListLabs(ctx, "u1", storage.LabQuery{TestName: "Glucose"})
	if err != nil {
		t.Fatalf("ListLabs: %v", err)
	}
	if len(labs) != 1 || labs[0].Value != 90 {
		t.Errorf("glucose rows = %+v, want the seeded value preserved", labs)
	}

	// Saved rows are linked to the document and user.
	labs, _ = store.Labs.ListLabs(ctx, "u1", storage.LabQuery{TestName: "Hemoglobin"})
	if len(labs) != 1 || labs[0].DocumentID != doc.ID || labs[0].UserID != "u1" {
		t.Errorf("hemoglobin row = %+v", labs)
	}
}

func TestProcessOCRFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conversion failed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPipeline(t, store, srv.URL, &fakeChatter{})
	doc := seedDocument(t, store, writeTempDoc(t, "pdf bytes"))

	err := p.Process(context.Background(), &storage.IngestJob{ID: "j1", DocumentID: doc.ID})
	if err == nil || !strings.HasPrefix(err.Error(), "parsing:") {
		t.Fatalf("err = %v, want parsing stage failure", err)
	}

	got, _ := store.Documents.GetDocument(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	var failure ingestFailure
	if err := json.Unmarshal(got.ParsedData, &failure); err != nil {
		t.Fatalf("parsed_data = %s: %v", got.ParsedData, err)
	}
	if failure.Stage != "parsing" || failure.Error == "" {
		t.Errorf("failure = %+v", failure)
	}
}

func TestProcessEmptyFile(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := ocrServer(t, "unused")
	p := newTestPipeline(t, store, srv.URL, &fakeChatter{})
	doc := seedDocument(t, store, writeTempDoc(t, ""))

	err := p.Process(context.Background(), &storage.IngestJob{ID: "j1", DocumentID: doc.ID})
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("err = %v, want empty-document failure", err)
	}
	got, _ := store.Documents.GetDocument(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestProcessExtractionFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := ocrServer(t, "# Lab Report")
	chatter := &fakeChatter{replies: []string{"not json", "still not json"}}
	p := newTestPipeline(t, store, srv.URL, chatter)
	doc := seedDocument(t, store, writeTempDoc(t, "pdf bytes"))

	err := p.Process(context.Background(), &storage.IngestJob{ID: "j1", DocumentID: doc.ID})
	if err == nil || !strings.HasPrefix(err.Error(), "extracting:") {
		t.Fatalf("err = %v, want extracting stage failure", err)
	}

	got, _ := store.Documents.GetDocument(context.Background(), doc.ID)
	if got.Status != models.DocumentFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	var failure ingestFailure
	if err := json.Unmarshal(got.ParsedData, &failure); err != nil {
		t.Fatalf("parsed_data: %v", err)
	}
	if failure.Stage != "extracting" {
		t.Errorf("stage = %q, want extracting", failure.Stage)
	}
	// Parsing succeeded before the failure, so the raw text is kept.
	if got.RawText != "# Lab Report" {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestProcessSkipsDocumentPastParsing(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := ocrServer(t, "unused")
	p := newTestPipeline(t, store, srv.URL, &fakeChatter{})
	doc := seedDocument(t, store, writeTempDoc(t, "pdf bytes"))

	ctx := context.Background()
	for _, status := range []models.DocumentStatus{models.DocumentParsing, models.DocumentParsed, models.DocumentExtracting, models.DocumentCompleted} {
		if err := store.Documents.SetStatus(ctx, doc.ID, status, storage.DocumentUpdate{}); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	// A redelivered job for a finished document is a no-op.
	if err := p.Process(ctx, &storage.IngestJob{ID: "j1", DocumentID: doc.ID}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, _ := store.Documents.GetDocument(ctx, doc.ID)
	if got.Status != models.DocumentCompleted {
		t.Errorf("status = %s, want completed untouched", got.Status)
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := ocrServer(t, "# Lab Report")
	chatter := &fakeChatter{replies: []string{`{"lab_results": []}`}}
	p := newTestPipeline(t, store, srv.URL, chatter)
	doc := seedDocument(t, store, writeTempDoc(t, "pdf bytes"))

	ctx := context.Background()
	if err := store.Queue.Enqueue(ctx, &storage.IngestJob{ID: "j1", DocumentID: doc.ID, UserID: "u1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(store.Queue, p, 1, nil)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	deadline := time.After(5 * time.Second)
	for {
		got, err := store.Documents.GetDocument(ctx, doc.ID)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if got.Status == models.DocumentCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("document never completed, status = %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}

	// The completed job is gone from the queue.
	if job, _ := store.Queue.Claim(ctx); job != nil {
		t.Errorf("job still claimable after completion: %+v", job)
	}
}
