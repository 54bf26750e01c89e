package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisRecord is an operator audit row for one analysis attempt. It is
// never read back into a conversation.
type AnalysisRecord struct {
	ID                  uuid.UUID `json:"id"`
	SessionID           uuid.UUID `json:"session_id"`
	Address             string    `json:"address"`
	HasLocation         bool      `json:"has_location"`
	Outcome             string    `json:"outcome"` // "success" | "error" | "aborted"
	ErrorKind           string    `json:"error_kind,omitempty"`
	HasMetrics          bool      `json:"has_metrics"`
	MetricsDecodeFailed bool      `json:"metrics_decode_failed"`
	CitationCount       int       `json:"citation_count"`
	DurationMS          int64     `json:"duration_ms"`
	CreatedAt           time.Time `json:"created_at"`
}

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	// OutcomeAborted marks a call cut short because its session was closed.
	OutcomeAborted = "aborted"
)

// WebSocket message types
const (
	WSTypeStatusUpdate    = "status_update"
	WSTypeMessageAppended = "message_appended"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusUpdate struct {
	Status  string `json:"status"`
	Loading bool   `json:"loading"`
}

// MessageEvent announces a message appended to the conversation. HTML is
// filled in by the presentation layer before the event leaves the process.
type MessageEvent struct {
	Message Message `json:"message"`
	HTML    string  `json:"html,omitempty"`
}

// MessageListResponse carries the whole conversation with rendered partials.
type MessageListResponse struct {
	Messages []MessageEvent `json:"messages"`
}

// API Error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
