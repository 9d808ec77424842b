package health

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// minOverlapDays is the smallest day overlap a correlation is computed on.
const minOverlapDays = 5

type correlateTool struct {
	deps Deps
}

func (t *correlateTool) Name() string { return "correlate_metrics" }

func (t *correlateTool) Description() string {
	return "Correlate two metrics at day granularity. Metrics are wearable series codes, " +
		"lab tests prefixed with 'lab:' (e.g. lab:HbA1c), or symptom types prefixed with " +
		"'symptom:' (e.g. symptom:migraine)."
}

func (t *correlateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"metric_a": {"type": "string", "minLength": 1},
			"metric_b": {"type": "string", "minLength": 1},
			"days": {"type": "integer", "minimum": 1, "maximum": 3650, "description": "Look-back window in days (default 90)"}
		},
		"required": ["metric_a", "metric_b"],
		"additionalProperties": false
	}`)
}

func (t *correlateTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	uid, err := userID(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		MetricA string `json:"metric_a"`
		MetricB string `json:"metric_b"`
		Days    int    `json:"days"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	if in.Days <= 0 {
		in.Days = 90
	}
	cutoff := t.deps.now().Add(-time.Duration(in.Days) * 24 * time.Hour)

	valuesA, err := t.dailyValues(ctx, uid, in.MetricA, cutoff)
	if err != nil {
		return "", err
	}
	valuesB, err := t.dailyValues(ctx, uid, in.MetricB, cutoff)
	if err != nil {
		return "", err
	}

	common := make([]string, 0, len(valuesA))
	for day := range valuesA {
		if _, ok := valuesB[day]; ok {
			common = append(common, day)
		}
	}
	sort.Strings(common)

	if len(common) < minOverlapDays {
		out, err := json.Marshal(map[string]any{
			"user_id":           uid,
			"metric_a":          in.MetricA,
			"metric_b":          in.MetricB,
			"period_days":       in.Days,
			"overlapping_days":  len(common),
			"insufficient_data": true,
		})
		return string(out), err
	}

	type pair struct {
		Date string  `json:"date"`
		A    float64 `json:"value_a"`
		B    float64 `json:"value_b"`
	}
	pairs := make([]pair, 0, len(common))
	aVals := make([]float64, 0, len(common))
	bVals := make([]float64, 0, len(common))
	for _, day := range common {
		pairs = append(pairs, pair{Date: day, A: valuesA[day], B: valuesB[day]})
		aVals = append(aVals, valuesA[day])
		bVals = append(bVals, valuesB[day])
	}

	result := map[string]any{
		"user_id":          uid,
		"metric_a":         in.MetricA,
		"metric_b":         in.MetricB,
		"period_days":      in.Days,
		"overlapping_days": len(common),
		"paired_data":      pairs,
	}
	if coef, ok := pearson(aVals, bVals); ok {
		result["correlation"] = round3(coef)
		result["interpretation"] = interpretCorrelation(coef)
	} else {
		result["correlation"] = nil
		result["interpretation"] = "insufficient variance"
	}

	out, err := json.Marshal(result)
	return string(out), err
}

// dailyValues resolves a metric identifier to its per-day values. Lab values
// take the row value directly; symptom severities average within a day;
// wearable series collapse per their catalog aggregation.
func (t *correlateTool) dailyValues(ctx context.Context, uid, metric string, cutoff time.Time) (map[string]float64, error) {
	loc := t.deps.loc()

	if name, ok := strings.CutPrefix(metric, "symptom:"); ok {
		entries, err := t.deps.Store.Symptoms.ListSymptoms(ctx, uid, storage.SymptomQuery{
			Since:       cutoff,
			SymptomType: name,
		})
		if err != nil {
			return nil, err
		}
		sums := map[string]float64{}
		counts := map[string]int{}
		for _, e := range entries {
			day := models.DayKey(e.RecordedAt, loc)
			sums[day] += float64(e.Severity)
			counts[day]++
		}
		values := make(map[string]float64, len(sums))
		for day, sum := range sums {
			values[day] = sum / float64(counts[day])
		}
		return values, nil
	}

	if name, ok := strings.CutPrefix(metric, "lab:"); ok {
		labs, err := t.deps.Store.Labs.ListLabs(ctx, uid, storage.LabQuery{
			Since:     cutoff,
			TestName:  name,
			Ascending: true,
		})
		if err != nil {
			return nil, err
		}
		values := make(map[string]float64, len(labs))
		for _, lab := range labs {
			values[models.DayKey(lab.RecordedAt, loc)] = lab.Value
		}
		return values, nil
	}

	code := resolveSeriesCode(metric)
	series, err := t.deps.Store.Wearables.SeriesType(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, err
	}
	daily, err := t.deps.Store.Wearables.DailyAggregates(ctx, uid, series.Code, cutoff, loc)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(daily))
	for _, d := range daily {
		if series.Aggregation == models.AggregateSum {
			values[d.Day] = d.Sum
		} else {
			values[d.Day] = d.Mean
		}
	}
	return values, nil
}

// pearson computes the correlation coefficient. ok is false when either side
// has zero variance.
func pearson(a, b []float64) (float64, bool) {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	stdA := math.Sqrt(varA / n)
	stdB := math.Sqrt(varB / n)
	if stdA == 0 || stdB == 0 {
		return 0, false
	}
	return (cov / n) / (stdA * stdB), true
}

func interpretCorrelation(coef float64) string {
	abs := math.Abs(coef)
	sign := "positive"
	if coef < 0 {
		sign = "negative"
	}
	switch {
	case abs >= 0.7:
		return "strong " + sign
	case abs >= 0.4:
		return "moderate " + sign
	case abs >= 0.2:
		return "weak " + sign
	default:
		return "no significant correlation"
	}
}
