package models

import "time"

// SymptomEntry is one user-logged symptom event. Severity is 0-10.
type SymptomEntry struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	SymptomType string   `json:"symptom_type"`
	Severity    int      `json:"severity"`
	Notes       string   `json:"notes,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	// DurationMinutes is nil when the user did not log a duration.
	DurationMinutes *int `json:"duration_minutes,omitempty"`
	// RecordedAt is when the symptom occurred, not when it was logged.
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}
