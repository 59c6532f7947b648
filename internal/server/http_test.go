package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/circuit-voice-assistant/internal/config"
	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
	"github.com/skypro1111/circuit-voice-assistant/internal/session"
)

type stubDispatcher struct {
	turns []*dialog.Conversation
	panic bool
}

func (d *stubDispatcher) Dispatch(ctx context.Context, conv *dialog.Conversation) *dialog.Response {
	if d.panic {
		panic("dispatcher exploded")
	}
	d.turns = append(d.turns, conv)
	conv.Ask("What can I do for you?", "Send a message")
	return conv.Response()
}

type stubSessions struct {
	infos []session.Info
}

func (s *stubSessions) ActiveCount() int         { return len(s.infos) }
func (s *stubSessions) Sessions() []session.Info { return s.infos }

type testServer struct {
	handler    http.Handler
	dispatcher *stubDispatcher
	metrics    *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	d := &stubDispatcher{}
	sessions := &stubSessions{infos: []session.Info{{
		UserID:    "user-1",
		ClientID:  "client-1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(5 * time.Minute),
		Remaining: 5 * time.Minute,
	}}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHTTPServer(config.ServerConfig{Address: "127.0.0.1", Port: 0}, logger, d, sessions, m, reg)
	return &testServer{handler: h.Handler(), dispatcher: d, metrics: m}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

const welcomeTurn = `{
  "session": "projects/va/agent/sessions/s1",
  "queryResult": {"intent": {"displayName": "Default Welcome Intent"}},
  "originalDetectIntentRequest": {"payload": {"user": {"userId": "user-1", "accessToken": "tok"}}}
}`

func TestWebhook(t *testing.T) {
	for _, path := range []string{"/", "/webhook"} {
		t.Run(path, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(http.MethodPost, path, welcomeTurn)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			require.Len(t, s.dispatcher.turns, 1)
			assert.Equal(t, "user-1", s.dispatcher.turns[0].UserID())

			var resp dialog.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Payload)
			assert.True(t, resp.Payload.Google.ExpectUserResponse)
			assert.Equal(t, "What can I do for you?", resp.FulfillmentText)

			assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPRequests.WithLabelValues(http.MethodPost, path, "200")))
		})
	}
}

func TestWebhookRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/webhook", `{"queryResult":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.dispatcher.turns)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.HTTPErrors.WithLabelValues(http.MethodPost, "/webhook", "client_error")))
}

func TestWebhookPanicRecovered(t *testing.T) {
	s := newTestServer(t)
	s.dispatcher.panic = true

	rec := s.do(http.MethodPost, "/", welcomeTurn)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/", welcomeTurn, "X-Request-ID", "req-42")

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestStartProbe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/_ah/start", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status     string `json:"status"`
		Components struct {
			SessionManager struct {
				ActiveSessions int `json:"active_sessions"`
			} `json:"session_manager"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Components.SessionManager.ActiveSessions)
}

func TestSessions(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total    int            `json:"total_sessions"`
		Sessions []session.Info `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "user-1", body.Sessions[0].UserID)
	assert.Equal(t, "client-1", body.Sessions[0].ClientID)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.metrics.RecordSessionCreated()

	rec := s.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voice_sessions_created_total")
}

func TestRootDocumentation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/_ah/start")
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPut, "/webhook", welcomeTurn)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, s.dispatcher.turns)
}
