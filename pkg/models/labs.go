package models

import (
	"strings"
	"time"
)

// Lab result status values normalized from extraction.
const (
	LabStatusNormal   = "normal"
	LabStatusHigh     = "high"
	LabStatusLow      = "low"
	LabStatusCritical = "critical"
)

// LabResult is one measurement extracted from a document or seeded directly.
//
// Deduplication key: (user_id, test_code, recorded_at) when test_code is set,
// otherwise (user_id, test_name, recorded_at). Duplicates are skipped on
// insert, never updated.
type LabResult struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
	TestName   string `json:"test_name"`
	// TestCode is an optional standardized (LOINC-like) code.
	TestCode     string   `json:"test_code,omitempty"`
	Value        float64  `json:"value"`
	Unit         string   `json:"unit"`
	ReferenceMin *float64 `json:"reference_min,omitempty"`
	ReferenceMax *float64 `json:"reference_max,omitempty"`
	Status       string   `json:"status,omitempty"`
	// RecordedAt is the date of the measurement, not the upload.
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeLabStatus lower-cases a status and drops unknown values.
func NormalizeLabStatus(s string) string {
	switch lowered := strings.ToLower(strings.TrimSpace(s)); lowered {
	case LabStatusNormal, LabStatusHigh, LabStatusLow, LabStatusCritical:
		return lowered
	}
	return ""
}
