package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roofscale-backend/internal/middleware"
	"roofscale-backend/internal/models"
	"roofscale-backend/internal/services"
	"roofscale-backend/internal/session"
)

type stubAnalyzer struct {
	mu     sync.Mutex
	calls  int
	loc    *models.Coordinates
	result *models.AnalysisResult
	err    error
	block  chan struct{}
}

func (s *stubAnalyzer) AnalyzeRoof(ctx context.Context, address string, loc *models.Coordinates) (*models.AnalysisResult, error) {
	if strings.TrimSpace(address) == "" {
		return nil, services.ErrEmptyAddress
	}

	s.mu.Lock()
	s.calls++
	s.loc = loc
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &services.ProviderError{Kind: services.ProviderErrorCanceled, Err: ctx.Err()}
		}
	}
	return s.result, s.err
}

type testEnv struct {
	router   http.Handler
	sessions *session.Manager
	auth     *middleware.SessionAuth
	analyzer *stubAnalyzer
}

func newTestEnv(t *testing.T, analyzer *stubAnalyzer) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	renderer, err := NewRenderer(logger)
	require.NoError(t, err)

	sessions := session.NewManager(session.Config{
		Analyzer:          analyzer,
		FirstStatusDelay:  time.Hour,
		SecondStatusDelay: time.Hour,
	}, time.Hour)
	t.Cleanup(func() {
		if analyzer.block != nil {
			select {
			case <-analyzer.block:
			default:
				close(analyzer.block)
			}
		}
		sessions.Stop()
	})

	auth := middleware.NewSessionAuth("test-secret", false)
	sessionHandler := NewSessionHandler(sessions, auth, renderer, logger)
	analysisHandler := NewAnalysisHandler(analyzer, logger)
	pages := NewPages(renderer, sessions, auth, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/", pages.Home)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", sessionHandler.Create)
		r.Post("/analyses", analysisHandler.Analyze)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Get("/session", sessionHandler.State)
			r.Put("/session/location", sessionHandler.SetLocation)
			r.Get("/session/messages", sessionHandler.Messages)
			r.Post("/session/messages", sessionHandler.Submit)
		})
	})

	return &testEnv{router: r, sessions: sessions, auth: auth, analyzer: analyzer}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) newSession(t *testing.T) (string, models.SessionState) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.State
}

func decodeSubmit(t *testing.T, rec *httptest.ResponseRecorder) models.SubmitResponse {
	t.Helper()
	var resp models.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

// ─── Session Handler Tests ───

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, session.StatusReady, resp.State.Status)
	require.Len(t, resp.State.Messages, 1)
	assert.Equal(t, "initial", resp.State.Messages[0].ID)

	id, err := env.auth.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, id.String(), resp.State.SessionID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
}

func TestSessionRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})

	rec := env.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})
	token, err := env.auth.IssueToken(uuid.New())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/session", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))
}

func TestSubmit_Accepted(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{
		Narrative: "Summary text.",
		Metrics:   &models.RoofMetrics{TotalAreaSqFt: 2400},
	}}
	env := newTestEnv(t, analyzer)
	token, _ := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "1 Main St"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeSubmit(t, rec)
	assert.True(t, resp.Accepted)
	assert.Empty(t, resp.Reason)

	id, _ := env.auth.ParseToken(token)
	d, ok := env.sessions.Get(id)
	require.True(t, ok)
	d.Wait()

	rec = env.do(t, http.MethodGet, "/api/v1/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Len(t, state.Messages, 3)
	assert.True(t, state.Messages[2].IsReport)
	assert.Equal(t, session.StatusComplete, state.Status)
}

func TestMessages_ReturnsRenderedConversation(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{
		Narrative: "Summary text.",
		Metrics:   &models.RoofMetrics{TotalAreaSqFt: 2400},
	}}
	env := newTestEnv(t, analyzer)
	token, _ := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "1 Main St"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	id, _ := env.auth.ParseToken(token)
	d, ok := env.sessions.Get(id)
	require.True(t, ok)
	d.Wait()

	// The report was appended with no live listener; the list still has it.
	rec = env.do(t, http.MethodGet, "/api/v1/session/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.MessageListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 3)

	for _, ev := range resp.Messages {
		assert.Contains(t, ev.HTML, `id="msg-`+ev.Message.ID+`"`)
	}
	report := resp.Messages[2]
	assert.True(t, report.Message.IsReport)
	assert.Contains(t, report.HTML, "2,400")
	assert.Contains(t, report.HTML, "Summary text.")
}

func TestMessages_UnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})
	token, err := env.auth.IssueToken(uuid.New())
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/session/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, rec))
}

func TestSubmit_RejectedIsNotAnError(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{Narrative: "ok"}, block: make(chan struct{})}
	env := newTestEnv(t, analyzer)
	token, _ := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "   "})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeSubmit(t, rec)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "empty", resp.Reason)
	assert.Len(t, resp.State.Messages, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "1 Main St"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "2 Main St"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeSubmit(t, rec)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "busy", resp.Reason)
	assert.True(t, resp.State.Loading)
	assert.Len(t, resp.State.Messages, 2)

	close(analyzer.block)
}

func TestSubmit_InvalidBody(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})
	token, _ := env.newSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/messages", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestSetLocation(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{Narrative: "ok"}}
	env := newTestEnv(t, analyzer)
	token, _ := env.newSession(t)

	rec := env.do(t, http.MethodPut, "/api/v1/session/location", token, map[string]float64{"latitude": 37.42, "longitude": -122.08})
	require.Equal(t, http.StatusOK, rec.Code)

	// Later reports are ignored.
	rec = env.do(t, http.MethodPut, "/api/v1/session/location", token, map[string]float64{"latitude": 1, "longitude": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	var state models.SessionState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.NotNil(t, state.Location)
	assert.Equal(t, 37.42, state.Location.Latitude)

	rec = env.do(t, http.MethodPost, "/api/v1/session/messages", token, models.SubmitRequest{Message: "x"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, _ := env.auth.ParseToken(token)
	d, _ := env.sessions.Get(id)
	d.Wait()

	require.NotNil(t, analyzer.loc)
	assert.Equal(t, -122.08, analyzer.loc.Longitude)
}

func TestSetLocation_Invalid(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})
	token, _ := env.newSession(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing longitude", map[string]float64{"latitude": 10}},
		{"latitude out of range", map[string]float64{"latitude": 91, "longitude": 0}},
		{"longitude out of range", map[string]float64{"latitude": 0, "longitude": -181}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/v1/session/location", token, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_LOCATION", errorCode(t, rec))
		})
	}
}

// ─── Analysis Handler Tests ───

func TestAnalyze_Success(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{
		Narrative: "Summary text.",
		Citations: []models.Citation{{Web: &models.CitationRef{Title: "t", URI: "https://example.org"}}},
		Metrics:   &models.RoofMetrics{Squares: 24},
	}}
	env := newTestEnv(t, analyzer)

	lat, lng := 40.0, -75.0
	rec := env.do(t, http.MethodPost, "/api/v1/analyses", "", models.AnalyzeRequest{Address: "1 Main St", Latitude: &lat, Longitude: &lng})
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Summary text.", got.Narrative)
	assert.Equal(t, 24.0, got.Metrics.Squares)
	assert.Len(t, got.Citations, 1)
	require.NotNil(t, analyzer.loc)
	assert.Equal(t, 40.0, analyzer.loc.Latitude)
}

func TestAnalyze_HalfLocationIsAbsent(t *testing.T) {
	analyzer := &stubAnalyzer{result: &models.AnalysisResult{Narrative: "ok"}}
	env := newTestEnv(t, analyzer)

	lat := 40.0
	rec := env.do(t, http.MethodPost, "/api/v1/analyses", "", models.AnalyzeRequest{Address: "1 Main St", Latitude: &lat})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, analyzer.loc)
}

func TestAnalyze_Failures(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		err      error
		wantCode int
		wantErr  string
	}{
		{"empty address", "  ", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"provider auth", "1 Main St", &services.ProviderError{Kind: services.ProviderErrorAuth, Err: errors.New("bad key")}, http.StatusBadGateway, "AI_ERROR"},
		{"provider network", "1 Main St", &services.ProviderError{Kind: services.ProviderErrorNetwork, Err: errors.New("dial")}, http.StatusBadGateway, "AI_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, &stubAnalyzer{err: tc.err})

			rec := env.do(t, http.MethodPost, "/api/v1/analyses", "", models.AnalyzeRequest{Address: tc.address})
			assert.Equal(t, tc.wantCode, rec.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantErr, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
			if tc.wantErr == "AI_ERROR" {
				assert.Equal(t, session.FailureMessage, resp.Error.Message, "provider detail never leaks")
			}
		})
	}
}

// ─── Page Tests ───

func TestHome_CreatesSessionAndCookie(t *testing.T) {
	env := newTestEnv(t, &stubAnalyzer{})

	rec := env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "ROOFSCALE INTEL v5.0 ONLINE.")
	assert.Contains(t, rec.Body.String(), session.StatusReady)
	assert.Equal(t, 1, env.sessions.Len())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	// The same browser gets the same session back.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.sessions.Len())
	assert.Empty(t, rec.Result().Cookies())
}

func TestRenderer_Message(t *testing.T) {
	renderer, err := NewRenderer(zap.NewNop())
	require.NoError(t, err)

	html, err := renderer.Message(models.Message{
		ID:      "0f8c2a1e-aaaa-bbbb-cccc-123456789abc",
		Role:    models.RoleModel,
		Content: "**Steep** roof <script>alert(1)</script>",
		Metrics: &models.RoofMetrics{
			TotalAreaSqFt:   2400.5,
			Squares:         24,
			PrimaryPitch:    "6/12",
			Waste10Percent:  26.4,
			ConfidenceScore: 150,
		},
		IsReport: true,
		Citations: []models.Citation{
			{Maps: &models.CitationRef{Title: "Parcel", URI: "https://maps.example/1"}, Web: &models.CitationRef{Title: "Web", URI: "https://web.example"}},
			{Web: &models.CitationRef{Title: "No link"}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, html, "<strong>Steep</strong>")
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "2,400.5")
	assert.Contains(t, html, "24.00")
	assert.Contains(t, html, "26.40 SQS")
	assert.Contains(t, html, "CONFIDENCE: 150%", "values are shown as decoded")
	assert.Contains(t, html, "RS-0F8C2A1EA")
	assert.Contains(t, html, `href="https://maps.example/1"`)
	assert.NotContains(t, html, "https://web.example")
	assert.NotContains(t, html, "No link")
}

func TestRenderer_UserMessageIsPlainText(t *testing.T) {
	renderer, err := NewRenderer(zap.NewNop())
	require.NoError(t, err)

	html, err := renderer.Message(models.Message{ID: "u1", Role: models.RoleUser, Content: "**1 Main St**"})
	require.NoError(t, err)

	assert.Contains(t, html, "**1 Main St**")
	assert.NotContains(t, html, "Grounding Sources")
	assert.NotContains(t, html, "Architectural Survey Result")
}

func TestFormatArea(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{2400, "2,400"},
		{1234567.891, "1,234,567.891"},
		{1234.56789, "1,234.568"},
		{-4500, "-4,500"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, formatArea(tc.in))
	}
}

func TestReferenceID(t *testing.T) {
	assert.Equal(t, "RS-ABCDEF012", referenceID("abcdef01-2345-6789"))
	assert.Equal(t, "RS-INITIAL", referenceID("initial"))
}

// ─── Live Publisher Tests ───

type capturePublisher struct {
	msgs []models.WSMessage
}

func (c *capturePublisher) Publish(_ context.Context, _ uuid.UUID, msg models.WSMessage) {
	c.msgs = append(c.msgs, msg)
}

func TestLivePublisher_AddsHTML(t *testing.T) {
	renderer, err := NewRenderer(zap.NewNop())
	require.NoError(t, err)
	next := &capturePublisher{}
	live := NewLivePublisher(next, renderer, zap.NewNop())

	live.Publish(context.Background(), uuid.New(), models.WSMessage{
		Type:    models.WSTypeMessageAppended,
		Payload: models.MessageEvent{Message: models.Message{ID: "m1", Role: models.RoleModel, Content: "hello"}},
	})
	live.Publish(context.Background(), uuid.New(), models.WSMessage{
		Type:    models.WSTypeStatusUpdate,
		Payload: models.StatusUpdate{Status: "SYSTEM READY"},
	})

	require.Len(t, next.msgs, 2)
	ev, ok := next.msgs[0].Payload.(models.MessageEvent)
	require.True(t, ok)
	assert.Contains(t, ev.HTML, `id="msg-m1"`)
	assert.Contains(t, ev.HTML, "hello")
	assert.Equal(t, models.StatusUpdate{Status: "SYSTEM READY"}, next.msgs[1].Payload)
}
