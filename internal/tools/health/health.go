// Package health implements the read-only tool catalog the assistant can
// call to ground its answers in the user's health data.
package health

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
)

// Deps carries what the tools need. Tools only read the store; anything that
// writes belongs to the REST surface or the ingestion pipeline.
type Deps struct {
	Store *storage.Store
	// Loc is the user's time zone for calendar-day bucketing. Nil means UTC.
	Loc *time.Location
	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) loc() *time.Location {
	if d.Loc != nil {
		return d.Loc
	}
	return time.UTC
}

// RegisterAll registers the full catalog on the registry.
func RegisterAll(reg *tools.Registry, deps Deps) {
	reg.MustRegister(&recentLabsTool{deps})
	reg.MustRegister(&labTrendTool{deps})
	reg.MustRegister(&symptomTimelineTool{deps})
	reg.MustRegister(&wearableSummaryTool{deps})
	reg.MustRegister(&dailySummaryTool{deps})
	reg.MustRegister(&correlateTool{deps})
}

var errNoUser = errors.New("no user in context")

func userID(ctx context.Context) (string, error) {
	id, ok := tools.UserFromContext(ctx)
	if !ok {
		return "", errNoUser
	}
	return id, nil
}

// seriesAliases maps the short names users tend to use to catalog codes.
var seriesAliases = map[string]string{
	"hr":         "heart_rate",
	"hrv":        "heart_rate_variability_sdnn",
	"resting_hr": "resting_heart_rate",
	"spo2":       "blood_oxygen_saturation",
	"energy":     "active_energy_burned",
	"distance":   "distance_walking_running",
	"sleep":      "sleep_duration",
}

func resolveSeriesCode(code string) string {
	if resolved, ok := seriesAliases[code]; ok {
		return resolved
	}
	return code
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
