package models

import "time"

// SeriesAggregation selects how raw samples collapse into a daily value.
type SeriesAggregation string

const (
	// AggregateMean averages samples within a day (heart rate, HRV, weight).
	AggregateMean SeriesAggregation = "mean"
	// AggregateSum totals samples within a day (steps, energy, distance).
	AggregateSum SeriesAggregation = "sum"
)

// SeriesType describes one wearable metric in the series catalog.
type SeriesType struct {
	Code        string            `json:"code"`
	Unit        string            `json:"unit"`
	Aggregation SeriesAggregation `json:"aggregation"`
}

// WearablePoint is one raw sample in a wearable time series. The core only
// reads these rows; sync adapters own the writes.
type WearablePoint struct {
	UserID     string    `json:"user_id"`
	SeriesCode string    `json:"series_code"`
	RecordedAt time.Time `json:"recorded_at"`
	Value      float64   `json:"value"`
}

// DailyAggregate is one calendar day of a wearable series collapsed to
// summary statistics.
type DailyAggregate struct {
	Day   string  `json:"date"` // YYYY-MM-DD
	Mean  float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Count int     `json:"data_points"`
}

// DayKey formats a timestamp as the calendar-day bucket key in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
