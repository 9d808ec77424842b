// Package storage defines the repository contracts the core consumes and
// provides in-memory and Postgres-backed implementations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/robin-sci/health-assistant/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict covers uniqueness violations and illegal status transitions.
	ErrConflict = errors.New("conflict")
	// ErrStreamActive means another message stream holds the session.
	ErrStreamActive = errors.New("stream already active for session")
)

// SessionStore persists chat sessions and their messages.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error)
	// DeleteSession removes the session and cascades to its messages.
	DeleteSession(ctx context.Context, id string) error
	// SetTitle updates the session title without touching last_activity_at.
	SetTitle(ctx context.Context, id, title string) error
	// AppendMessage atomically inserts the message and advances the
	// session's last_activity_at.
	AppendMessage(ctx context.Context, sessionID string, msg *models.ChatMessage) error
	// Messages returns the session's messages ordered by created_at with
	// ties broken by insertion order. limit <= 0 means no limit.
	Messages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error)
}

// DocumentUpdate carries stage artifacts written atomically with a status
// transition.
type DocumentUpdate struct {
	RawText    *string
	ParsedData json.RawMessage
}

// DocumentStore persists uploaded medical documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.MedicalDocument) error
	GetDocument(ctx context.Context, id string) (*models.MedicalDocument, error)
	ListDocuments(ctx context.Context, userID string, limit int) ([]*models.MedicalDocument, error)
	// DeleteDocument removes the document row. Derived lab results survive
	// with their document reference cleared.
	DeleteDocument(ctx context.Context, id string) error
	// SetStatus advances the pipeline status machine, writing any stage
	// artifacts in the same transaction. Transitions not allowed by
	// models.DocumentStatus.CanTransitionTo return ErrConflict.
	SetStatus(ctx context.Context, id string, status models.DocumentStatus, update DocumentUpdate) error
}

// LabQuery filters lab result listings.
type LabQuery struct {
	// Since bounds recorded_at from below; zero means unbounded.
	Since time.Time
	// TestName filters by case-insensitive substring match when non-empty.
	TestName string
	// Ascending orders by recorded_at ascending instead of descending.
	Ascending bool
	// Limit caps the result size; <= 0 means no limit.
	Limit int
}

// LabStore persists lab results.
type LabStore interface {
	// InsertLab inserts one result, skipping silently when the dedup key
	// already exists. Returns false when the row was a duplicate.
	InsertLab(ctx context.Context, lab *models.LabResult) (bool, error)
	ListLabs(ctx context.Context, userID string, q LabQuery) ([]*models.LabResult, error)
	// TestNames returns the distinct test names seen for the user.
	TestNames(ctx context.Context, userID string) ([]string, error)
}

// SymptomQuery filters symptom listings.
type SymptomQuery struct {
	Since       time.Time
	SymptomType string // exact match when non-empty
	Limit       int
}

// SymptomStore persists user-logged symptom entries.
type SymptomStore interface {
	CreateSymptom(ctx context.Context, entry *models.SymptomEntry) error
	ListSymptoms(ctx context.Context, userID string, q SymptomQuery) ([]*models.SymptomEntry, error)
	SymptomTypes(ctx context.Context, userID string) ([]string, error)
}

// WearableStore reads the normalized wearable series. The core never writes
// these rows; sync adapters own ingestion.
type WearableStore interface {
	SeriesType(ctx context.Context, code string) (*models.SeriesType, error)
	SeriesTypes(ctx context.Context) ([]models.SeriesType, error)
	// DailyAggregates buckets samples by calendar day in loc and returns
	// one aggregate per day with data, ordered by day ascending.
	DailyAggregates(ctx context.Context, userID, code string, since time.Time, loc *time.Location) ([]models.DailyAggregate, error)
}

// StreamGuard enforces the single-writer-per-session rule with a conditional
// insert rather than an in-process mutex, so it holds across processes.
type StreamGuard interface {
	// Acquire claims the session for one message stream. Returns
	// ErrStreamActive when another stream holds it.
	Acquire(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string)
}

// IngestJob is one queued document-ingestion work item.
type IngestJob struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobQueue is a durable at-least-once queue for ingestion jobs. Claimed jobs
// that are neither completed nor failed become claimable again after the
// visibility timeout, so the pipeline must tolerate redelivery.
type JobQueue interface {
	Enqueue(ctx context.Context, job *IngestJob) error
	// Claim returns the next available job, or nil when the queue is empty.
	Claim(ctx context.Context) (*IngestJob, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
}

// Store groups the repositories the core depends on.
type Store struct {
	Sessions  SessionStore
	Documents DocumentStore
	Labs      LabStore
	Symptoms  SymptomStore
	Wearables WearableStore
	Streams   StreamGuard
	Queue     JobQueue

	closer func() error
}

// Close releases any underlying resources.
func (s *Store) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
