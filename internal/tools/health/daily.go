package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// keyDailyMetrics are the series included in a daily snapshot.
var keyDailyMetrics = []string{"heart_rate", "steps", "active_energy_burned"}

type dailySummaryTool struct {
	deps Deps
}

func (t *dailySummaryTool) Name() string { return "get_daily_summary" }

func (t *dailySummaryTool) Description() string {
	return "Get a combined snapshot for one calendar day: symptoms, labs drawn that day, and wearable aggregates."
}

func (t *dailySummaryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$", "description": "Day in YYYY-MM-DD format"}
		},
		"required": ["date"],
		"additionalProperties": false
	}`)
}

func (t *dailySummaryTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	day, err := time.ParseInLocation("2006-01-02", in.Date, t.deps.loc())
	if err != nil {
		out, merr := json.Marshal(map[string]string{
			"error": fmt.Sprintf("Invalid date format: %s. Use YYYY-MM-DD.", in.Date),
		})
		if merr != nil {
			return "", merr
		}
		return string(out), nil
	}
	dayEnd := day.AddDate(0, 0, 1)

	summary := map[string]any{
		"user_id": uid,
		"date":    in.Date,
	}

	labs, err := t.deps.Store.Labs.ListLabs(ctx, uid, storage.LabQuery{Since: day})
	if err != nil {
		return "", err
	}
	var labOut []map[string]any
	for _, lab := range labs {
		if models.DayKey(lab.RecordedAt, t.deps.loc()) != in.Date {
			continue
		}
		labOut = append(labOut, map[string]any{
			"test_name": lab.TestName,
			"value":     lab.Value,
			"unit":      lab.Unit,
			"status":    string(lab.Status),
		})
	}
	if len(labOut) > 0 {
		summary["lab_results"] = labOut
	}

	symptoms, err := t.deps.Store.Symptoms.ListSymptoms(ctx, uid, storage.SymptomQuery{Since: day})
	if err != nil {
		return "", err
	}
	var symOut []map[string]any
	for _, s := range symptoms {
		if s.RecordedAt.Before(day) || !s.RecordedAt.Before(dayEnd) {
			continue
		}
		symOut = append(symOut, map[string]any{
			"type":     s.SymptomType,
			"severity": s.Severity,
			"notes":    s.Notes,
		})
	}
	if len(symOut) > 0 {
		summary["symptoms"] = symOut
	}

	metrics := map[string]any{}
	for _, code := range keyDailyMetrics {
		series, err := t.deps.Store.Wearables.SeriesType(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		daily, err := t.deps.Store.Wearables.DailyAggregates(ctx, uid, code, day, t.deps.loc())
		if err != nil {
			return "", err
		}
		for _, d := range daily {
			if d.Day != in.Date {
				continue
			}
			entry := map[string]any{
				"unit":        series.Unit,
				"data_points": d.Count,
			}
			if series.Aggregation == models.AggregateSum {
				entry["total"] = d.Sum
			} else {
				entry["avg"] = round1(d.Mean)
				entry["min"] = d.Min
				entry["max"] = d.Max
			}
			metrics[code] = entry
			break
		}
	}
	if len(metrics) > 0 {
		summary["wearable_metrics"] = metrics
	}

	out, err := json.Marshal(summary)
	return string(out), err
}
