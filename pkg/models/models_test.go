package models

import (
	"testing"
	"time"
)

func TestDocumentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{DocumentUploading, DocumentParsing, true},
		{DocumentParsing, DocumentParsed, true},
		{DocumentParsed, DocumentExtracting, true},
		{DocumentExtracting, DocumentCompleted, true},

		// Any non-terminal state can fail.
		{DocumentUploading, DocumentFailed, true},
		{DocumentParsing, DocumentFailed, true},
		{DocumentExtracting, DocumentFailed, true},

		// No skipping, no going back.
		{DocumentUploading, DocumentParsed, false},
		{DocumentParsing, DocumentCompleted, false},
		{DocumentParsed, DocumentParsing, false},
		{DocumentExtracting, DocumentUploading, false},

		// Terminal states are final, even toward failed.
		{DocumentCompleted, DocumentFailed, false},
		{DocumentFailed, DocumentParsing, false},
		{DocumentFailed, DocumentFailed, false},

		{DocumentStatus("bogus"), DocumentParsing, false},
		{DocumentUploading, DocumentStatus("bogus"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDocumentStatusTerminal(t *testing.T) {
	for status, want := range map[DocumentStatus]bool{
		DocumentUploading:  false,
		DocumentParsing:    false,
		DocumentParsed:     false,
		DocumentExtracting: false,
		DocumentCompleted:  true,
		DocumentFailed:     true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestValidDocumentType(t *testing.T) {
	for _, dt := range []DocumentType{DocumentLabReport, DocumentPrescription, DocumentImaging, DocumentOther} {
		if !ValidDocumentType(dt) {
			t.Errorf("%s rejected", dt)
		}
	}
	if ValidDocumentType(DocumentType("diary")) {
		t.Error("unknown type accepted")
	}
}

func TestNormalizeLabStatus(t *testing.T) {
	cases := map[string]string{
		"normal":     "normal",
		"HIGH":       "high",
		"  Low  ":    "low",
		"Critical":   "critical",
		"borderline": "",
		"":           "",
	}
	for in, want := range cases {
		if got := NormalizeLabStatus(in); got != want {
			t.Errorf("NormalizeLabStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDayKey(t *testing.T) {
	// 01:30 UTC on March 2 is still March 1 in New York.
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)

	if got := DayKey(ts, time.UTC); got != "2026-03-02" {
		t.Errorf("DayKey UTC = %q", got)
	}
	if got := DayKey(ts, ny); got != "2026-03-01" {
		t.Errorf("DayKey New York = %q", got)
	}
	if got := DayKey(ts, nil); got != "2026-03-02" {
		t.Errorf("DayKey nil loc = %q, want UTC behavior", got)
	}
}
