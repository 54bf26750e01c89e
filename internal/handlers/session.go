package handlers

import (
	"math"
	"net/http"

	"go.uber.org/zap"

	"roofscale-backend/internal/middleware"
	"roofscale-backend/internal/models"
	"roofscale-backend/internal/session"
)

// SessionHandler exposes one browser's conversation.
type SessionHandler struct {
	sessions *session.Manager
	auth     *middleware.SessionAuth
	render   *Renderer
	logger   *zap.Logger
}

func NewSessionHandler(sessions *session.Manager, auth *middleware.SessionAuth, render *Renderer, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, auth: auth, render: render, logger: logger.Named("session")}
}

// Create starts a new conversation and returns its token.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	d := h.sessions.Create()

	token, err := h.auth.IssueToken(d.ID())
	if err != nil {
		h.logger.Error("Failed to sign session token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Could not start session", r))
		return
	}
	h.auth.SetCookie(w, token)

	writeJSON(w, http.StatusCreated, models.SessionResponse{Token: token, State: d.Snapshot()})
}

// driver resolves the caller's session, writing a 404 when it is gone.
func (h *SessionHandler) driver(w http.ResponseWriter, r *http.Request) (*session.Driver, bool) {
	d, ok := h.sessions.Get(middleware.GetSessionID(r.Context()))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("SESSION_NOT_FOUND", "Session has expired. Reload to start a new one.", r))
		return nil, false
	}
	return d, true
}

func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// Messages returns every message with its rendered partial, so a page that
// missed live events while disconnected can fill the gaps.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}

	msgs := d.Snapshot().Messages
	events := make([]models.MessageEvent, 0, len(msgs))
	for _, msg := range msgs {
		html, err := h.render.Message(msg)
		if err != nil {
			h.logger.Error("Failed to render message", zap.String("message_id", msg.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Could not render conversation", r))
			return
		}
		events = append(events, models.MessageEvent{Message: msg, HTML: html})
	}

	writeJSON(w, http.StatusOK, models.MessageListResponse{Messages: events})
}

// SetLocation stores the browser's coordinates. Only the first report sticks;
// later ones are accepted and ignored.
func (h *SessionHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}

	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_REQUEST", "Invalid request body", r))
		return
	}
	if req.Latitude == nil || req.Longitude == nil || !validCoordinates(*req.Latitude, *req.Longitude) {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_LOCATION", "latitude and longitude are required and must be in range", r))
		return
	}

	if d.SetLocation(models.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}) {
		h.logger.Debug("Session location set", zap.String("session_id", d.ID().String()))
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Submit hands the message to the session driver. A rejected submit is not an
// error: the response says so and nothing else changes.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	d, ok := h.driver(w, r)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_REQUEST", "Invalid request body", r))
		return
	}

	accepted, reason := d.Submit(req.Message)
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}

	writeJSON(w, status, models.SubmitResponse{
		Accepted: accepted,
		Reason:   string(reason),
		State:    d.Snapshot(),
	})
}
