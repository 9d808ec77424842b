package models

import (
	"encoding/json"
	"time"
)

// DocumentStatus tracks a medical document through the ingestion pipeline.
type DocumentStatus string

const (
	DocumentUploading  DocumentStatus = "uploading"
	DocumentParsing    DocumentStatus = "parsing"
	DocumentParsed     DocumentStatus = "parsed"
	DocumentExtracting DocumentStatus = "extracting"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further pipeline work will happen.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentCompleted || s == DocumentFailed
}

// CanTransitionTo reports whether the status machine allows moving to next.
// The machine is monotonic: forward along the pipeline or to failed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == DocumentFailed {
		return true
	}
	order := map[DocumentStatus]int{
		DocumentUploading:  0,
		DocumentParsing:    1,
		DocumentParsed:     2,
		DocumentExtracting: 3,
		DocumentCompleted:  4,
	}
	cur, ok := order[s]
	if !ok {
		return false
	}
	nxt, ok := order[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// DocumentType categorizes an uploaded medical document.
type DocumentType string

const (
	DocumentLabReport    DocumentType = "lab_report"
	DocumentPrescription DocumentType = "prescription"
	DocumentImaging      DocumentType = "imaging"
	DocumentOther        DocumentType = "other"
)

// ValidDocumentType reports whether t is a known document type.
func ValidDocumentType(t DocumentType) bool {
	switch t {
	case DocumentLabReport, DocumentPrescription, DocumentImaging, DocumentOther:
		return true
	}
	return false
}

// MedicalDocument is one uploaded file moving through the ingestion pipeline.
// Deleting a document does not delete lab results derived from it.
type MedicalDocument struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Title        string          `json:"title"`
	DocumentType DocumentType    `json:"document_type"`
	FilePath     string          `json:"file_path"`
	FileType     string          `json:"file_type"`
	RawText      string          `json:"raw_text,omitempty"`
	ParsedData   json.RawMessage `json:"parsed_data,omitempty"`
	DocumentDate *time.Time      `json:"document_date,omitempty"`
	Status       DocumentStatus  `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}
