package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
)

const testToken = "valid-token"

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
	Header http.Header
}

// fakeCircuit is a minimal Circuit REST backend
type fakeCircuit struct {
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func newFakeCircuit(t *testing.T) (*fakeCircuit, *httptest.Server) {
	t.Helper()
	f := &fakeCircuit{handlers: map[string]http.HandlerFunc{}}
	f.handlers["GET /rest/v2/users/profile"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, User{UserID: "u-1", DisplayName: "Roger", EmailAddress: "roger@example.com"})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone()}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		h, ok := f.handlers[r.Method+" "+r.URL.Path]
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeCircuit) handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func (f *fakeCircuit) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestConnector(t *testing.T, baseURL string, m *metrics.Metrics) *RESTConnector {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewConnector(Config{BaseURL: baseURL + "/", ClientID: "app-id", Timeout: 2 * time.Second}, logger, m)
	require.NoError(t, err)
	return c
}

func connect(t *testing.T, c *RESTConnector) *RESTClient {
	t.Helper()
	client, err := c.Connect(context.Background(), testToken)
	require.NoError(t, err)
	return client.(*RESTClient)
}

func TestNewConnectorValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewConnector(Config{ClientID: "id"}, logger, nil)
	assert.Error(t, err)

	_, err = NewConnector(Config{BaseURL: "https://circuitsandbox.net"}, logger, nil)
	assert.Error(t, err)

	c, err := NewConnector(Config{BaseURL: "https://circuitsandbox.net/", ClientID: "id"}, logger, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://circuitsandbox.net", c.config.BaseURL)
	assert.Equal(t, 10*time.Second, c.config.Timeout)
}

func TestConnect(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	c := newTestConnector(t, srv.URL, nil)

	client := connect(t, c)

	assert.Equal(t, "u-1", client.User().UserID)
	assert.NotEmpty(t, client.CurrentClientID())

	req := fake.last()
	assert.Equal(t, "/rest/v2/users/profile", req.Path)
	assert.Equal(t, "app-id", req.Header.Get("X-Circuit-App-Id"))
	assert.Equal(t, client.CurrentClientID(), req.Header.Get("X-Circuit-Client-Id"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
}

func TestConnectRejectedToken(t *testing.T) {
	_, srv := newFakeCircuit(t)
	c := newTestConnector(t, srv.URL, nil)

	_, err := c.Connect(context.Background(), "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = c.Connect(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestConnectTimeoutIsAuthenticationError(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	release := make(chan struct{})
	defer close(release)
	fake.handle("GET /rest/v2/users/profile", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c := newTestConnector(t, srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Connect(ctx, testToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestSearchAndMessaging(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	fake.handle("GET /rest/v2/users/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []User{{UserID: "u-2", DisplayName: "Jon Snow", EmailAddress: "jon@example.com"}})
	})
	fake.handle("GET /rest/v2/conversations/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []Conversation{{ConvID: "c-1", Topic: "Night's Watch"}})
	})
	c := newTestConnector(t, srv.URL, nil)
	client := connect(t, c)
	ctx := context.Background()

	users, err := client.SearchUsers(ctx, "Jon")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "jon@example.com", users[0].EmailAddress)
	assert.Equal(t, "name=Jon", fake.last().Query)

	convs, err := client.SearchConversationsByName(ctx, "Night")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c-1", convs[0].ConvID)

	require.NoError(t, client.AddTextItem(ctx, "c-1", "winter is coming"))
	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/v2/conversations/c-1/messages", req.Path)
	assert.Equal(t, "winter is coming", req.Body["content"])
}

func TestGetDirectConversationCreatesWhenAbsent(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	fake.handle("GET /rest/v2/conversations/direct", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no conversation", http.StatusNotFound)
	})
	fake.handle("POST /rest/v2/conversations/direct", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Conversation{ConvID: "direct-1"})
	})
	c := newTestConnector(t, srv.URL, nil)
	client := connect(t, c)

	_, err := client.GetDirectConversationWithUser(context.Background(), "u-2", false)
	assert.ErrorIs(t, err, ErrNotFound)

	conv, err := client.GetDirectConversationWithUser(context.Background(), "u-2", true)
	require.NoError(t, err)
	assert.Equal(t, "direct-1", conv.ConvID)
	assert.Equal(t, "u-2", fake.last().Body["participant"])
}

func TestConferenceOperations(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	fake.handle("GET /rest/v2/rtc/calls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") == "remote" {
			writeJSON(w, []Call{})
			return
		}
		writeJSON(w, []Call{{CallID: "call-1", ConvID: "c-1"}})
	})
	fake.handle("GET /rest/v2/conversations/c-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ConversationDetails{ConvID: "c-1", TopicPlaceholder: "Alice, Bob"})
	})
	fake.handle("POST /rest/v2/rtc/calls/gone/leave", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not a participant", http.StatusConflict)
	})
	c := newTestConnector(t, srv.URL, nil)
	client := connect(t, c)
	ctx := context.Background()

	started, err := client.GetStartedCalls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Call{{CallID: "call-1", ConvID: "c-1"}}, started)

	remote, err := client.GetActiveRemoteCalls(ctx)
	require.NoError(t, err)
	assert.Empty(t, remote)

	details, err := client.GetConversationByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice, Bob", details.TopicPlaceholder)

	require.NoError(t, client.JoinConference(ctx, "call-1", MediaOptions{Audio: true}, "web-1"))
	req := fake.last()
	assert.Equal(t, "/rest/v2/rtc/calls/call-1/join", req.Path)
	assert.Equal(t, "web-1", req.Body["clientId"])
	assert.Equal(t, map[string]any{"audio": true, "video": false}, req.Body["mediaType"])

	err = client.LeaveConference(ctx, "gone")
	assert.ErrorIs(t, err, ErrConference)
}

func TestClickToCallNotOnline(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	fake.handle("POST /rest/v2/rtc/clicktocall", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device offline", http.StatusNotFound)
	})
	c := newTestConnector(t, srv.URL, nil)
	client := connect(t, c)

	err := client.SendClickToCallRequest(context.Background(), "jon@example.com", "", "web-1", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotOnline)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "jon@example.com", fake.last().Body["emailAddress"])
}

func TestLogoutClosesHandle(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	c := newTestConnector(t, srv.URL, nil)
	client := connect(t, c)

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, "/rest/v2/logout", fake.last().Path)

	// second logout is a no-op
	require.NoError(t, client.Logout(context.Background()))

	_, err := client.GetDevices(context.Background())
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestStatsAndMetrics(t *testing.T) {
	fake, srv := newFakeCircuit(t)
	fake.handle("GET /rest/v2/users/devices", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := newTestConnector(t, srv.URL, m)
	client := connect(t, c)

	_, err := client.GetDevices(context.Background())
	require.Error(t, err)

	stats := c.GetStats()
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, uint64(1), stats.FailedRequests)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlatformCalls.WithLabelValues("logon", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlatformCalls.WithLabelValues("getDevices", "failure")))
}
