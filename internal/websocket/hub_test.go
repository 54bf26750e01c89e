package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roofscale-backend/internal/models"
)

type staticTokens map[string]uuid.UUID

func (s staticTokens) ParseToken(token string) (uuid.UUID, error) {
	id, ok := s[token]
	if !ok {
		return uuid.Nil, errors.New("unknown token")
	}
	return id, nil
}

func newTestHub(t *testing.T, tokens staticTokens) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil, tokens, "", zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
}

func TestHub_RejectsBadToken(t *testing.T) {
	_, srv := newTestHub(t, staticTokens{})

	_, resp, err := gorilla.DefaultDialer.Dial(wsURL(srv, "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_PublishReachesOnlyThatSession(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	hub, srv := newTestHub(t, staticTokens{"ta": a, "tb": b})

	connA, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "ta"), nil)
	require.NoError(t, err)
	defer connA.Close()
	connB, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "tb"), nil)
	require.NoError(t, err)
	defer connB.Close()

	require.Eventually(t, func() bool {
		return hub.ConnectionCount(a) == 1 && hub.ConnectionCount(b) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Publish(context.Background(), a, models.WSMessage{
		Type:    models.WSTypeStatusUpdate,
		Payload: models.StatusUpdate{Status: "ANALYSIS COMPLETE"},
	})

	connA.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := connA.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type    string              `json:"type"`
		Payload models.StatusUpdate `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, models.WSTypeStatusUpdate, got.Type)
	assert.Equal(t, "ANALYSIS COMPLETE", got.Payload.Status)

	connB.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err, "other sessions receive nothing")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	id := uuid.New()
	hub, srv := newTestHub(t, staticTokens{"t": id})

	conn, _, err := gorilla.DefaultDialer.Dial(wsURL(srv, "t"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ConnectionCount(id) == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount(id) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CheckOrigin(t *testing.T) {
	check := sameOriginOr("http://localhost:3000")

	req := httptest.NewRequest(http.MethodGet, "http://app.example/api/v1/ws", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}
