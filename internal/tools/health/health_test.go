package health

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
	"github.com/robin-sci/health-assistant/pkg/models"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newDeps(t *testing.T) (Deps, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ms := store.Labs.(*storage.MemoryStore)
	return Deps{Store: store, Now: func() time.Time { return testNow }}, ms
}

func userCtx() context.Context {
	return tools.WithUser(context.Background(), "u1")
}

func seedLab(t *testing.T, store *storage.Store, name string, value float64, daysAgo int) {
	t.Helper()
	lab := &models.LabResult{
		ID:         fmt.Sprintf("%s-%d", name, daysAgo),
		UserID:     "u1",
		TestName:   name,
		Value:      value,
		Unit:       "%",
		RecordedAt: testNow.AddDate(0, 0, -daysAgo),
	}
	if _, err := store.Labs.InsertLab(context.Background(), lab); err != nil {
		t.Fatalf("seed lab: %v", err)
	}
}

func execute(t *testing.T, tool tools.Tool, args string) map[string]any {
	t.Helper()
	raw, err := tool.Execute(userCtx(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", tool.Name(), err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("%s returned invalid JSON: %q", tool.Name(), raw)
	}
	return out
}

func TestRecentLabsWindowAndFilter(t *testing.T) {
	deps, _ := newDeps(t)
	seedLab(t, deps.Store, "HbA1c", 5.6, 10)
	seedLab(t, deps.Store, "Ferritin", 80, 20)
	seedLab(t, deps.Store, "HbA1c", 6.0, 200) // outside default window

	tool := &recentLabsTool{deps}

	out := execute(t, tool, `{}`)
	if out["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", out["count"])
	}
	if out["period_days"].(float64) != 90 {
		t.Errorf("period_days = %v, want 90", out["period_days"])
	}

	out = execute(t, tool, `{"test_name":"hba1c"}`)
	if out["count"].(float64) != 1 {
		t.Errorf("filtered count = %v, want 1", out["count"])
	}

	out = execute(t, tool, `{"days":365}`)
	if out["count"].(float64) != 3 {
		t.Errorf("wide-window count = %v, want 3", out["count"])
	}
}

func TestRecentLabsZeroDayWindow(t *testing.T) {
	deps, _ := newDeps(t)
	seedLab(t, deps.Store, "HbA1c", 5.6, 10)

	registry := tools.NewRegistry()
	RegisterAll(registry, deps)

	// An explicit zero window must pass schema validation and come back
	// empty, not be rejected as invalid arguments.
	raw := registry.Dispatch(userCtx(), "get_recent_labs", json.RawMessage(`{"days":0}`))
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("invalid JSON result: %q", raw)
	}
	if errCode, ok := out["error"]; ok {
		t.Fatalf("days=0 rejected with %v", errCode)
	}
	if out["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", out["count"])
	}
	if out["period_days"].(float64) != 0 {
		t.Errorf("period_days = %v, want 0", out["period_days"])
	}

	// Omitting the window still defaults to 90 days.
	raw = registry.Dispatch(userCtx(), "get_recent_labs", json.RawMessage(`{}`))
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("invalid JSON result: %q", raw)
	}
	if out["period_days"].(float64) != 90 || out["count"].(float64) != 1 {
		t.Errorf("default window = %v days with count %v, want 90 and 1", out["period_days"], out["count"])
	}
}

func TestLabTrendStatistics(t *testing.T) {
	deps, _ := newDeps(t)
	seedLab(t, deps.Store, "HbA1c", 5.2, 150)
	seedLab(t, deps.Store, "HbA1c", 5.5, 90)
	seedLab(t, deps.Store, "HbA1c", 5.8, 10)

	out := execute(t, &labTrendTool{deps}, `{"test_name":"HbA1c"}`)

	if out["count"].(float64) != 3 {
		t.Fatalf("count = %v, want 3", out["count"])
	}
	stats := out["statistics"].(map[string]any)
	if stats["min"].(float64) != 5.2 || stats["max"].(float64) != 5.8 {
		t.Errorf("min/max = %v/%v, want 5.2/5.8", stats["min"], stats["max"])
	}
	if stats["avg"].(float64) != 5.5 {
		t.Errorf("avg = %v, want 5.5", stats["avg"])
	}
	if stats["latest"].(float64) != 5.8 {
		t.Errorf("latest = %v, want 5.8", stats["latest"])
	}
	if stats["trend"] != "increasing" {
		t.Errorf("trend = %v, want increasing", stats["trend"])
	}

	points := out["data_points"].([]any)
	first := points[0].(map[string]any)
	if first["value"].(float64) != 5.2 {
		t.Errorf("data points not ascending by date: first = %v", first)
	}
}

func TestLabTrendNoResults(t *testing.T) {
	deps, _ := newDeps(t)
	out := execute(t, &labTrendTool{deps}, `{"test_name":"Ferritin","months":6}`)

	if out["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", out["count"])
	}
	if out["message"] == nil || out["message"] == "" {
		t.Error("empty trend missing message")
	}
	if _, ok := out["data_points"].([]any); !ok {
		t.Error("empty trend missing data_points array")
	}
}

func TestSymptomTimelineFrequency(t *testing.T) {
	deps, _ := newDeps(t)
	for i, sev := range []int{4, 6, 8} {
		err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
			ID:          fmt.Sprintf("h%d", i),
			UserID:      "u1",
			SymptomType: "headache",
			Severity:    sev,
			RecordedAt:  testNow.AddDate(0, 0, -i),
		})
		if err != nil {
			t.Fatalf("seed symptom: %v", err)
		}
	}
	err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
		ID: "n1", UserID: "u1", SymptomType: "nausea", Severity: 3,
		RecordedAt: testNow.AddDate(0, 0, -1),
	})
	if err != nil {
		t.Fatalf("seed symptom: %v", err)
	}

	out := execute(t, &symptomTimelineTool{deps}, `{}`)
	if out["count"].(float64) != 4 {
		t.Fatalf("count = %v, want 4", out["count"])
	}
	freq := out["frequency"].(map[string]any)
	headache := freq["headache"].(map[string]any)
	if headache["count"].(float64) != 3 {
		t.Errorf("headache count = %v, want 3", headache["count"])
	}
	if headache["avg_severity"].(float64) != 6 {
		t.Errorf("avg_severity = %v, want 6", headache["avg_severity"])
	}
	if headache["max_severity"].(float64) != 8 {
		t.Errorf("max_severity = %v, want 8", headache["max_severity"])
	}

	out = execute(t, &symptomTimelineTool{deps}, `{"symptom_type":"nausea"}`)
	if out["count"].(float64) != 1 {
		t.Errorf("filtered count = %v, want 1", out["count"])
	}
}

func TestWearableSummary(t *testing.T) {
	deps, ms := newDeps(t)
	ms.RegisterSeries(models.SeriesType{Code: "heart_rate", Unit: "bpm", Aggregation: models.AggregateMean})
	ms.RegisterSeries(models.SeriesType{Code: "steps", Unit: "count", Aggregation: models.AggregateSum})

	day1 := testNow.AddDate(0, 0, -2)
	day2 := testNow.AddDate(0, 0, -1)
	for _, p := range []models.WearablePoint{
		{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day1, Value: 60},
		{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day1.Add(time.Hour), Value: 70},
		{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day2, Value: 80},
		{UserID: "u1", SeriesCode: "steps", RecordedAt: day1, Value: 4000},
		{UserID: "u1", SeriesCode: "steps", RecordedAt: day1.Add(time.Hour), Value: 6000},
	} {
		ms.AddPoint(p)
	}

	// Alias resolves, mean series reports per-day averages.
	out := execute(t, &wearableSummaryTool{deps}, `{"metric":"hr"}`)
	if out["metric"] != "heart_rate" {
		t.Errorf("metric = %v, want heart_rate", out["metric"])
	}
	daily := out["daily_values"].([]any)
	if len(daily) != 2 {
		t.Fatalf("daily_values = %d, want 2", len(daily))
	}
	first := daily[0].(map[string]any)
	if first["avg"].(float64) != 65 {
		t.Errorf("day 1 avg = %v, want 65", first["avg"])
	}
	stats := out["statistics"].(map[string]any)
	if stats["days_with_data"].(float64) != 2 {
		t.Errorf("days_with_data = %v, want 2", stats["days_with_data"])
	}
	if stats["overall_avg"].(float64) != 72.5 {
		t.Errorf("overall_avg = %v, want 72.5", stats["overall_avg"])
	}

	// Sum series reports daily totals.
	out = execute(t, &wearableSummaryTool{deps}, `{"metric":"steps"}`)
	daily = out["daily_values"].([]any)
	if daily[0].(map[string]any)["total"].(float64) != 10000 {
		t.Errorf("steps total = %v, want 10000", daily[0].(map[string]any)["total"])
	}
}

func TestWearableSummaryUnknownMetric(t *testing.T) {
	deps, ms := newDeps(t)
	ms.RegisterSeries(models.SeriesType{Code: "heart_rate", Unit: "bpm", Aggregation: models.AggregateMean})

	out := execute(t, &wearableSummaryTool{deps}, `{"metric":"blood_pressure"}`)
	if out["error"] == nil {
		t.Fatal("unknown metric did not report an error")
	}
	available := out["available_metrics"].([]any)
	if len(available) != 1 || available[0] != "heart_rate" {
		t.Errorf("available_metrics = %v", available)
	}
}

func TestDailySummary(t *testing.T) {
	deps, ms := newDeps(t)
	day := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)

	seedLab(t, deps.Store, "Glucose", 92, 2) // 2026-05-30
	err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
		ID: "s1", UserID: "u1", SymptomType: "fatigue", Severity: 5,
		RecordedAt: day.Add(9 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed symptom: %v", err)
	}
	ms.RegisterSeries(models.SeriesType{Code: "steps", Unit: "count", Aggregation: models.AggregateSum})
	ms.AddPoint(models.WearablePoint{UserID: "u1", SeriesCode: "steps", RecordedAt: day.Add(12 * time.Hour), Value: 8000})

	out := execute(t, &dailySummaryTool{deps}, `{"date":"2026-05-30"}`)

	labs := out["lab_results"].([]any)
	if len(labs) != 1 || labs[0].(map[string]any)["test_name"] != "Glucose" {
		t.Errorf("lab_results = %v", labs)
	}
	symptoms := out["symptoms"].([]any)
	if len(symptoms) != 1 || symptoms[0].(map[string]any)["type"] != "fatigue" {
		t.Errorf("symptoms = %v", symptoms)
	}
	metrics := out["wearable_metrics"].(map[string]any)
	steps := metrics["steps"].(map[string]any)
	if steps["total"].(float64) != 8000 {
		t.Errorf("steps total = %v, want 8000", steps["total"])
	}
}

func TestDailySummaryInvalidDate(t *testing.T) {
	deps, _ := newDeps(t)
	raw, err := (&dailySummaryTool{deps}).Execute(userCtx(), json.RawMessage(`{"date":"2026-13-99"}`))
	if err != nil {
		t.Fatalf("invalid date must produce a tool result, not an error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("invalid JSON: %q", raw)
	}
	if out["error"] == nil {
		t.Errorf("result = %v, want error payload", out)
	}
}

func TestDailySummaryEmptyDayOmitsSections(t *testing.T) {
	deps, _ := newDeps(t)
	out := execute(t, &dailySummaryTool{deps}, `{"date":"2026-05-30"}`)
	for _, key := range []string{"lab_results", "symptoms", "wearable_metrics"} {
		if _, present := out[key]; present {
			t.Errorf("empty day includes %s", key)
		}
	}
}

func TestCorrelateInsufficientOverlap(t *testing.T) {
	deps, ms := newDeps(t)
	ms.RegisterSeries(models.SeriesType{Code: "heart_rate", Unit: "bpm", Aggregation: models.AggregateMean})
	for i := 0; i < 4; i++ {
		day := testNow.AddDate(0, 0, -i-1)
		ms.AddPoint(models.WearablePoint{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day, Value: 60})
		err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
			ID: fmt.Sprintf("s%d", i), UserID: "u1", SymptomType: "headache",
			Severity: 5, RecordedAt: day,
		})
		if err != nil {
			t.Fatalf("seed symptom: %v", err)
		}
	}

	out := execute(t, &correlateTool{deps}, `{"metric_a":"heart_rate","metric_b":"symptom:headache"}`)
	if out["insufficient_data"] != true {
		t.Fatalf("insufficient_data = %v, want true", out["insufficient_data"])
	}
	if out["overlapping_days"].(float64) != 4 {
		t.Errorf("overlapping_days = %v, want 4", out["overlapping_days"])
	}
}

func TestCorrelatePerfectPositive(t *testing.T) {
	deps, ms := newDeps(t)
	ms.RegisterSeries(models.SeriesType{Code: "heart_rate", Unit: "bpm", Aggregation: models.AggregateMean})
	for i := 0; i < 6; i++ {
		day := testNow.AddDate(0, 0, -i-1)
		ms.AddPoint(models.WearablePoint{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day, Value: float64(60 + i)})
		err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
			ID: fmt.Sprintf("s%d", i), UserID: "u1", SymptomType: "headache",
			Severity: 2 + i, RecordedAt: day,
		})
		if err != nil {
			t.Fatalf("seed symptom: %v", err)
		}
	}

	out := execute(t, &correlateTool{deps}, `{"metric_a":"heart_rate","metric_b":"symptom:headache"}`)
	if out["correlation"].(float64) != 1 {
		t.Errorf("correlation = %v, want 1", out["correlation"])
	}
	if out["interpretation"] != "strong positive" {
		t.Errorf("interpretation = %v, want strong positive", out["interpretation"])
	}
	pairs := out["paired_data"].([]any)
	if len(pairs) != 6 {
		t.Errorf("paired_data = %d, want 6", len(pairs))
	}
}

func TestCorrelateZeroVariance(t *testing.T) {
	deps, ms := newDeps(t)
	ms.RegisterSeries(models.SeriesType{Code: "heart_rate", Unit: "bpm", Aggregation: models.AggregateMean})
	for i := 0; i < 5; i++ {
		day := testNow.AddDate(0, 0, -i-1)
		ms.AddPoint(models.WearablePoint{UserID: "u1", SeriesCode: "heart_rate", RecordedAt: day, Value: 60})
		err := deps.Store.Symptoms.CreateSymptom(context.Background(), &models.SymptomEntry{
			ID: fmt.Sprintf("s%d", i), UserID: "u1", SymptomType: "headache",
			Severity: 2 + i, RecordedAt: day,
		})
		if err != nil {
			t.Fatalf("seed symptom: %v", err)
		}
	}

	out := execute(t, &correlateTool{deps}, `{"metric_a":"heart_rate","metric_b":"symptom:headache"}`)
	if out["correlation"] != nil {
		t.Errorf("correlation = %v, want null", out["correlation"])
	}
	if out["interpretation"] != "insufficient variance" {
		t.Errorf("interpretation = %v", out["interpretation"])
	}
}

func TestToolsRequireUser(t *testing.T) {
	deps, _ := newDeps(t)
	reg := tools.NewRegistry()
	RegisterAll(reg, deps)

	for _, name := range reg.Names() {
		tool, _ := reg.Get(name)
		args := json.RawMessage(`{}`)
		switch name {
		case "get_lab_trend":
			args = json.RawMessage(`{"test_name":"x"}`)
		case "get_wearable_summary":
			args = json.RawMessage(`{"metric":"hr"}`)
		case "get_daily_summary":
			args = json.RawMessage(`{"date":"2026-01-01"}`)
		case "correlate_metrics":
			args = json.RawMessage(`{"metric_a":"a","metric_b":"b"}`)
		}
		if _, err := tool.Execute(context.Background(), args); err == nil {
			t.Errorf("%s succeeded without a user in context", name)
		}
	}
}
