package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"roofscale-backend/internal/models"
)

const (
	reportStartMarker = "REPORT_DATA_START"
	reportEndMarker   = "REPORT_DATA_END"
)

// reportBlockRe matches the first start marker through the first end marker
// that follows it.
var reportBlockRe = regexp.MustCompile(`(?s)` + reportStartMarker + `(.*?)` + reportEndMarker)

// Report is the model output split into display text and optional metrics.
type Report struct {
	Narrative string
	Metrics   *models.RoofMetrics

	// DecodeErr is set when a block was present but did not decode. It is
	// for logging only; the report is still usable as narrative-only.
	DecodeErr error
}

// MetricsDecodeError reports a delimited block that is not a metrics record.
type MetricsDecodeError struct {
	Payload string
	Err     error
}

func (e *MetricsDecodeError) Error() string {
	return fmt.Sprintf("failed to decode report metrics: %v", e.Err)
}

func (e *MetricsDecodeError) Unwrap() error {
	return e.Err
}

var errNotJSONObject = errors.New("metrics block is not a JSON object")

// ExtractReport splits raw model text into narrative and metrics. The first
// delimited block is always removed from the narrative, whether or not it
// decodes.
func ExtractReport(raw string) Report {
	loc := reportBlockRe.FindStringSubmatchIndex(raw)
	if loc == nil {
		return Report{Narrative: strings.TrimSpace(raw)}
	}

	narrative := strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
	payload := strings.TrimSpace(raw[loc[2]:loc[3]])

	metrics, err := decodeMetrics(payload)
	if err != nil {
		return Report{
			Narrative: narrative,
			DecodeErr: &MetricsDecodeError{Payload: payload, Err: err},
		}
	}

	return Report{Narrative: narrative, Metrics: metrics}
}

func decodeMetrics(payload string) (*models.RoofMetrics, error) {
	// Models sometimes fence the block even when told not to.
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	payload = strings.TrimSpace(payload)

	if !strings.HasPrefix(payload, "{") {
		return nil, errNotJSONObject
	}

	var metrics models.RoofMetrics
	if err := json.Unmarshal([]byte(payload), &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}
