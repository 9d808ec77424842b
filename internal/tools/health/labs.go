package health

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// maxLabRows caps the rows a single tool call can hand to the model.
const maxLabRows = 100

type labRecord struct {
	TestName     string   `json:"test_name"`
	TestCode     string   `json:"test_code,omitempty"`
	Value        float64  `json:"value"`
	Unit         string   `json:"unit"`
	RecordedAt   string   `json:"recorded_at"`
	Status       string   `json:"status,omitempty"`
	ReferenceMin *float64 `json:"reference_min"`
	ReferenceMax *float64 `json:"reference_max"`
}

func toLabRecord(lab *models.LabResult) labRecord {
	return labRecord{
		TestName:     lab.TestName,
		TestCode:     lab.TestCode,
		Value:        lab.Value,
		Unit:         lab.Unit,
		RecordedAt:   lab.RecordedAt.Format("2006-01-02"),
		Status:       string(lab.Status),
		ReferenceMin: lab.ReferenceMin,
		ReferenceMax: lab.ReferenceMax,
	}
}

type recentLabsTool struct {
	deps Deps
}

func (t *recentLabsTool) Name() string { return "get_recent_labs" }

func (t *recentLabsTool) Description() string {
	return "Get the user's recent lab results, optionally filtered by test name. Returns results ordered newest first."
}

func (t *recentLabsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"days": {"type": "integer", "minimum": 0, "maximum": 3650, "description": "Look-back window in days (default 90); 0 means an empty window"},
			"test_name": {"type": "string", "description": "Case-insensitive substring filter on test name"}
		},
		"additionalProperties": false
	}`)
}

func (t *recentLabsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		Days     *int   `json:"days"`
		TestName string `json:"test_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	// Only an absent window defaults; an explicit 0 is a valid empty window.
	days := 90
	if in.Days != nil {
		days = *in.Days
	}

	labs, err := t.deps.Store.Labs.ListLabs(ctx, uid, storage.LabQuery{
		Since:    t.deps.now().AddDate(0, 0, -days),
		TestName: in.TestName,
		Limit:    maxLabRows,
	})
	if err != nil {
		return "", err
	}

	records := make([]labRecord, 0, len(labs))
	for _, lab := range labs {
		records = append(records, toLabRecord(lab))
	}
	out, err := json.Marshal(map[string]any{
		"user_id":     uid,
		"period_days": days,
		"count":       len(records),
		"results":     records,
	})
	return string(out), err
}

type trendPoint struct {
	Date   string  `json:"date"`
	Value  float64 `json:"value"`
	Status string  `json:"status,omitempty"`
}

type trendStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Latest float64 `json:"latest"`
	Trend  string  `json:"trend"`
}

type labTrendTool struct {
	deps Deps
}

func (t *labTrendTool) Name() string { return "get_lab_trend" }

func (t *labTrendTool) Description() string {
	return "Get the time series of one lab test over a period, with reference range and summary statistics."
}

func (t *labTrendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"test_name": {"type": "string", "minLength": 1, "description": "Test name, exact or partial"},
			"months": {"type": "integer", "minimum": 1, "maximum": 120, "description": "Look-back window in months (default 12)"}
		},
		"required": ["test_name"],
		"additionalProperties": false
	}`)
}

func (t *labTrendTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		TestName string `json:"test_name"`
		Months   int    `json:"months"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Months <= 0 {
		in.Months = 12
	}

	labs, err := t.deps.Store.Labs.ListLabs(ctx, uid, storage.LabQuery{
		Since:     t.deps.now().AddDate(0, 0, -in.Months*30),
		TestName:  in.TestName,
		Ascending: true,
	})
	if err != nil {
		return "", err
	}

	if len(labs) == 0 {
		out, err := json.Marshal(map[string]any{
			"user_id":       uid,
			"test_name":     in.TestName,
			"period_months": in.Months,
			"count":         0,
			"data_points":   []trendPoint{},
			"message":       fmt.Sprintf("No results found for %q in the last %d months.", in.TestName, in.Months),
		})
		return string(out), err
	}

	points := make([]trendPoint, 0, len(labs))
	values := make([]float64, 0, len(labs))
	for _, lab := range labs {
		points = append(points, trendPoint{
			Date:   lab.RecordedAt.Format("2006-01-02"),
			Value:  lab.Value,
			Status: string(lab.Status),
		})
		values = append(values, lab.Value)
	}

	stats := trendStats{
		Min:    values[0],
		Max:    values[0],
		Latest: values[len(values)-1],
		Trend:  "stable",
	}
	var sum float64
	for _, v := range values {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += v
	}
	stats.Avg = round2(sum / float64(len(values)))
	if len(values) >= 2 {
		switch {
		case values[len(values)-1] > values[0]:
			stats.Trend = "increasing"
		case values[len(values)-1] < values[0]:
			stats.Trend = "decreasing"
		}
	}

	out, err := json.Marshal(map[string]any{
		"user_id":       uid,
		"test_name":     labs[0].TestName,
		"unit":          labs[0].Unit,
		"period_months": in.Months,
		"count":         len(points),
		"reference_range": map[string]*float64{
			"min": labs[0].ReferenceMin,
			"max": labs[0].ReferenceMax,
		},
		"data_points": points,
		"statistics":  stats,
	})
	return string(out), err
}
