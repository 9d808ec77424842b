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

type dailyValue struct {
	Date       string  `json:"date"`
	Avg        float64 `json:"avg,omitempty"`
	Total      float64 `json:"total,omitempty"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	DataPoints int     `json:"data_points"`
}

type wearableStats struct {
	OverallAvg   float64 `json:"overall_avg"`
	OverallMin   float64 `json:"overall_min"`
	OverallMax   float64 `json:"overall_max"`
	DaysWithData int     `json:"days_with_data"`
}

type wearableSummaryTool struct {
	deps Deps
}

func (t *wearableSummaryTool) Name() string { return "get_wearable_summary" }

func (t *wearableSummaryTool) Description() string {
	return "Get daily aggregates and overall statistics for one wearable metric (e.g. heart_rate, steps, hrv, sleep)."
}

func (t *wearableSummaryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"metric": {"type": "string", "minLength": 1, "description": "Metric code or alias, e.g. heart_rate, steps, hrv, sleep"},
			"days": {"type": "integer", "minimum": 1, "maximum": 3650, "description": "Look-back window in days (default 30)"}
		},
		"required": ["metric"],
		"additionalProperties": false
	}`)
}

func (t *wearableSummaryTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		Metric string `json:"metric"`
		Days   int    `json:"days"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Days <= 0 {
		in.Days = 30
	}

	code := resolveSeriesCode(in.Metric)
	series, err := t.deps.Store.Wearables.SeriesType(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return t.unknownMetric(ctx, uid, in.Metric)
	}
	if err != nil {
		return "", err
	}

	cutoff := t.deps.now().Add(-time.Duration(in.Days) * 24 * time.Hour)
	daily, err := t.deps.Store.Wearables.DailyAggregates(ctx, uid, series.Code, cutoff, t.deps.loc())
	if err != nil {
		return "", err
	}

	sumSeries := series.Aggregation == models.AggregateSum
	values := make([]dailyValue, 0, len(daily))
	var dayVals []float64
	for _, d := range daily {
		dv := dailyValue{
			Date:       d.Day,
			Min:        d.Min,
			Max:        d.Max,
			DataPoints: d.Count,
		}
		if sumSeries {
			dv.Total = d.Sum
			dayVals = append(dayVals, d.Sum)
		} else {
			dv.Avg = round1(d.Mean)
			dayVals = append(dayVals, d.Mean)
		}
		values = append(values, dv)
	}

	result := map[string]any{
		"user_id":      uid,
		"metric":       series.Code,
		"unit":         series.Unit,
		"period_days":  in.Days,
		"count":        len(values),
		"daily_values": values,
	}
	if len(dayVals) > 0 {
		stats := wearableStats{
			OverallMin:   dayVals[0],
			OverallMax:   dayVals[0],
			DaysWithData: len(dayVals),
		}
		var sum float64
		for _, v := range dayVals {
			if v < stats.OverallMin {
				stats.OverallMin = v
			}
			if v > stats.OverallMax {
				stats.OverallMax = v
			}
			sum += v
		}
		stats.OverallAvg = round1(sum / float64(len(dayVals)))
		stats.OverallMin = round1(stats.OverallMin)
		stats.OverallMax = round1(stats.OverallMax)
		result["statistics"] = stats
	}

	out, err := json.Marshal(result)
	return string(out), err
}

func (t *wearableSummaryTool) unknownMetric(ctx context.Context, uid, metric string) (string, error) {
	catalog, err := t.deps.Store.Wearables.SeriesTypes(ctx)
	if err != nil {
		return "", err
	}
	available := make([]string, 0, len(catalog))
	for _, s := range catalog {
		available = append(available, s.Code)
	}
	if len(available) > 30 {
		available = available[:30]
	}
	out, err := json.Marshal(map[string]any{
		"user_id":           uid,
		"metric":            metric,
		"error":             fmt.Sprintf("Unknown metric %q.", metric),
		"available_metrics": available,
	})
	return string(out), err
}
