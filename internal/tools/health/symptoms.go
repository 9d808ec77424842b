package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
)

const maxSymptomRows = 100

type symptomRecord struct {
	SymptomType     string   `json:"symptom_type"`
	Severity        int      `json:"severity"`
	RecordedAt      string   `json:"recorded_at"`
	Notes           string   `json:"notes,omitempty"`
	Triggers        []string `json:"triggers,omitempty"`
	DurationMinutes *int     `json:"duration_minutes,omitempty"`
}

type symptomFrequency struct {
	Count       int     `json:"count"`
	AvgSeverity float64 `json:"avg_severity"`
	MaxSeverity int     `json:"max_severity"`
}

type symptomTimelineTool struct {
	deps Deps
}

func (t *symptomTimelineTool) Name() string { return "get_symptom_timeline" }

func (t *symptomTimelineTool) Description() string {
	return "Get the user's logged symptoms over a period, newest first, with per-type frequency statistics."
}

func (t *symptomTimelineTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"symptom_type": {"type": "string", "description": "Exact symptom type to filter by"},
			"days": {"type": "integer", "minimum": 1, "maximum": 3650, "description": "Look-back window in days (default 30)"}
		},
		"additionalProperties": false
	}`)
}

func (t *symptomTimelineTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		SymptomType string `json:"symptom_type"`
		Days        int    `json:"days"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Days <= 0 {
		in.Days = 30
	}

	entries, err := t.deps.Store.Symptoms.ListSymptoms(ctx, uid, storage.SymptomQuery{
		Since:       t.deps.now().Add(-time.Duration(in.Days) * 24 * time.Hour),
		SymptomType: in.SymptomType,
		Limit:       maxSymptomRows,
	})
	if err != nil {
		return "", err
	}

	records := make([]symptomRecord, 0, len(entries))
	severities := map[string][]int{}
	for _, e := range entries {
		records = append(records, symptomRecord{
			SymptomType:     e.SymptomType,
			Severity:        e.Severity,
			RecordedAt:      e.RecordedAt.Format(time.RFC3339),
			Notes:           e.Notes,
			Triggers:        e.Triggers,
			DurationMinutes: e.DurationMinutes,
		})
		severities[e.SymptomType] = append(severities[e.SymptomType], e.Severity)
	}

	frequency := make(map[string]symptomFrequency, len(severities))
	for stype, sevs := range severities {
		sum, max := 0, sevs[0]
		for _, s := range sevs {
			sum += s
			if s > max {
				max = s
			}
		}
		frequency[stype] = symptomFrequency{
			Count:       len(sevs),
			AvgSeverity: round1(float64(sum) / float64(len(sevs))),
			MaxSeverity: max,
		}
	}

	out, err := json.Marshal(map[string]any{
		"user_id":     uid,
		"period_days": in.Days,
		"count":       len(records),
		"entries":     records,
		"frequency":   frequency,
	})
	return string(out), err
}
