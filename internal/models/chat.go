package models

import "time"

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single conversation entry. Messages are immutable once
// appended to a conversation.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	Citations []Citation   `json:"citations,omitempty"`
	Metrics   *RoofMetrics `json:"metrics,omitempty"`
	IsReport  bool         `json:"is_report"`
}

// SessionState is the conversation as shown to one browser session.
type SessionState struct {
	SessionID string       `json:"session_id"`
	Messages  []Message    `json:"messages"`
	Loading   bool         `json:"loading"`
	Status    string       `json:"status"`
	Location  *Coordinates `json:"location,omitempty"`
}

// SubmitRequest is the payload sent to the conversation endpoint.
type SubmitRequest struct {
	Message string `json:"message"`
}

// SubmitResponse reports whether a submit was taken up by the driver.
// A rejected submit is a no-op, not an error.
type SubmitResponse struct {
	Accepted bool         `json:"accepted"`
	Reason   string       `json:"reason,omitempty"` // "empty" | "busy"
	State    SessionState `json:"state"`
}

// SessionResponse is returned when a new session is created.
type SessionResponse struct {
	Token string       `json:"token"`
	State SessionState `json:"state"`
}
