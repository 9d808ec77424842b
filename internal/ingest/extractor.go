package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robin-sci/health-assistant/internal/llm"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// maxExtractionText caps how much document text goes into the prompt.
const maxExtractionText = 8000

const extractionSystemPrompt = "You are a medical data extractor. Return ONLY valid JSON."

const extractionUserTemplate = `Extract all lab results from the following medical document text.

Return a JSON object with this exact structure:
{
  "lab_results": [
    {
      "test_name": "Hemoglobin",
      "test_code": "718-7",
      "value": 14.2,
      "unit": "g/dL",
      "reference_min": 13.5,
      "reference_max": 17.5,
      "recorded_at": "2024-01-15",
      "status": "normal"
    }
  ]
}

Rules:
- "value" must be a number (not a string)
- "test_code" is the LOINC-like code if stated, otherwise null
- "reference_min" and "reference_max" may be null if not stated
- "recorded_at" must be YYYY-MM-DD format; use today's date if not found
- "status" must be one of: "normal", "high", "low", "critical", or null
- Only include results with a numeric value

Document text:
%s`

const strictJSONReminder = "Your previous reply was not valid JSON. Respond again with ONLY the JSON object, no prose, no code fences."

// Chatter is the slice of the inference client the extractor uses.
type Chatter interface {
	Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.ChatOptions) (string, error)
}

// Extractor turns raw document text into validated lab results via the
// extraction model.
type Extractor struct {
	gateway Chatter
	model   string
	logger  *slog.Logger
	now     func() time.Time
}

// NewExtractor creates an extractor bound to one model.
func NewExtractor(gateway Chatter, model string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		gateway: gateway,
		model:   model,
		logger:  logger,
		now:     time.Now,
	}
}

type rawLabRecord struct {
	TestName     string `json:"test_name"`
	TestCode     string `json:"test_code"`
	Value        any    `json:"value"`
	Unit         string `json:"unit"`
	ReferenceMin any    `json:"reference_min"`
	ReferenceMax any    `json:"reference_max"`
	RecordedAt   string `json:"recorded_at"`
	Status       string `json:"status"`
}

type extractionReply struct {
	LabResults []rawLabRecord `json:"lab_results"`
}

// Extract asks the model for structured lab results and validates each
// record. A reply that is not valid JSON gets exactly one retry with a
// reinforcement message. Returns the valid records and the count dropped by
// validation.
func (e *Extractor) Extract(ctx context.Context, rawText string) ([]*models.LabResult, int, error) {
	if len(rawText) > maxExtractionText {
		rawText = rawText[:maxExtractionText]
	}
	msgs := []llm.Message{
		{Role: string(models.RoleSystem), Content: extractionSystemPrompt},
		{Role: string(models.RoleUser), Content: fmt.Sprintf(extractionUserTemplate, rawText)},
	}

	reply, err := e.gateway.Chat(ctx, e.model, msgs, llm.ChatOptions{JSONFormat: true})
	if err != nil {
		return nil, 0, fmt.Errorf("extraction completion: %w", err)
	}

	var decoded extractionReply
	if jsonErr := json.Unmarshal([]byte(reply), &decoded); jsonErr != nil {
		e.logger.Warn("extraction reply was not valid JSON, retrying", "error", jsonErr)
		msgs = append(msgs,
			llm.Message{Role: string(models.RoleAssistant), Content: reply},
			llm.Message{Role: string(models.RoleUser), Content: strictJSONReminder},
		)
		reply, err = e.gateway.Chat(ctx, e.model, msgs, llm.ChatOptions{JSONFormat: true})
		if err != nil {
			return nil, 0, fmt.Errorf("extraction retry: %w", err)
		}
		if jsonErr := json.Unmarshal([]byte(reply), &decoded); jsonErr != nil {
			return nil, 0, fmt.Errorf("extraction reply is not valid JSON: %w", jsonErr)
		}
	}

	today := e.now().UTC().Truncate(24 * time.Hour)
	labs := make([]*models.LabResult, 0, len(decoded.LabResults))
	dropped := 0
	for _, raw := range decoded.LabResults {
		lab, ok := validateRecord(raw, today)
		if !ok {
			dropped++
			continue
		}
		labs = append(labs, lab)
	}
	return labs, dropped, nil
}

// validateRecord applies the per-record rules: name and unit present, value
// finite, date parseable (missing date falls back to today). Status is
// normalized to lower case; unknown statuses become empty.
func validateRecord(raw rawLabRecord, today time.Time) (*models.LabResult, bool) {
	name := strings.TrimSpace(raw.TestName)
	unit := strings.TrimSpace(raw.Unit)
	if name == "" || unit == "" {
		return nil, false
	}
	value, ok := toFloat(raw.Value)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, false
	}

	recordedAt := today
	if strings.TrimSpace(raw.RecordedAt) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(raw.RecordedAt))
		if err != nil {
			return nil, false
		}
		recordedAt = parsed
	}

	lab := &models.LabResult{
		ID:         uuid.NewString(),
		TestName:   name,
		TestCode:   strings.TrimSpace(raw.TestCode),
		Value:      value,
		Unit:       unit,
		Status:     models.NormalizeLabStatus(raw.Status),
		RecordedAt: recordedAt,
	}
	if min, ok := toFloat(raw.ReferenceMin); ok {
		lab.ReferenceMin = &min
	}
	if max, ok := toFloat(raw.ReferenceMax); ok {
		lab.ReferenceMax = &max
	}
	return lab, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
