package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"roofscale-backend/internal/models"
	"roofscale-backend/internal/services"
	"roofscale-backend/internal/session"
)

// AnalysisHandler serves one-shot analyses outside any conversation.
type AnalysisHandler struct {
	analyzer session.Analyzer
	logger   *zap.Logger
}

func NewAnalysisHandler(analyzer session.Analyzer, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{analyzer: analyzer, logger: logger.Named("analysis")}
}

func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_REQUEST", "Invalid request body", r))
		return
	}

	loc := req.Location()
	if loc != nil && !validCoordinates(loc.Latitude, loc.Longitude) {
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_LOCATION", "latitude and longitude must be in range", r))
		return
	}

	result, err := h.analyzer.AnalyzeRoof(r.Context(), req.Address, loc)
	if err != nil {
		if errors.Is(err, services.ErrEmptyAddress) {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "address is required", r))
			return
		}

		// Failure detail stays in the logs; callers always see the same message.
		h.logger.Warn("Stateless analysis failed", zap.String("address", req.Address), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResp("AI_ERROR", session.FailureMessage, r))
		return
	}

	writeJSON(w, http.StatusOK, result)
}
