package models

// Coordinates is a latitude/longitude pair in degrees. Optional values are
// passed around as *Coordinates; nil means no location is known.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RoofMetrics is the structured block the model appends to its narrative.
// Values are kept exactly as decoded: no rounding and no range checks.
type RoofMetrics struct {
	TotalAreaSqFt   float64 `json:"totalAreaSqFt"`
	Squares         float64 `json:"squares"` // 1 square = 100 sq ft
	PrimaryPitch    string  `json:"primaryPitch"`
	RidgesLengthFt  float64 `json:"ridgesLengthFt"`
	ValleysLengthFt float64 `json:"valleysLengthFt"`
	EavesLengthFt   float64 `json:"eavesLengthFt"`
	RakesLengthFt   float64 `json:"rakesLengthFt"`
	FacetsCount     float64 `json:"facetsCount"`
	Waste10Percent  float64 `json:"waste10Percent"`
	Waste15Percent  float64 `json:"waste15Percent"`
	ConfidenceScore float64 `json:"confidenceScore"` // nominally 0-100
}

// AnalysisResult is what one provider call yields after report extraction.
type AnalysisResult struct {
	Narrative string       `json:"narrative"`
	Citations []Citation   `json:"citations"`
	Metrics   *RoofMetrics `json:"metrics,omitempty"`

	// MetricsDecodeFailed records that a metrics block was present but could
	// not be decoded. Operators see it; users never do.
	MetricsDecodeFailed bool `json:"-"`
}

// AnalyzeRequest is the payload of the stateless analysis endpoint.
type AnalyzeRequest struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Location returns the request's coordinates, or nil unless both halves are set.
func (r AnalyzeRequest) Location() *Coordinates {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &Coordinates{Latitude: *r.Latitude, Longitude: *r.Longitude}
}
