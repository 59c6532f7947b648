package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
)

const userAgent = "Circuit-Voice-Assistant/1.0"

// Config contains Circuit REST client configuration
type Config struct {
	BaseURL  string
	ClientID string // registered application id from account linking
	Timeout  time.Duration
}

// ClientStats represents aggregated statistics over all handles of a connector
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// RESTConnector authenticates access tokens against the Circuit REST API and
// hands out RESTClient handles sharing one HTTP transport.
type RESTConnector struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewConnector creates a new Circuit REST connector
func NewConnector(config Config, logger *slog.Logger, m *metrics.Metrics) (*RESTConnector, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &RESTConnector{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Connect validates the access token by fetching the user's profile and
// returns a handle bound to that token. Any logon failure, including a
// timeout, is reported as ErrAuthentication.
func (c *RESTConnector) Connect(ctx context.Context, accessToken string) (Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrAuthentication)
	}

	client := &RESTClient{
		connector: c,
		token:     accessToken,
		clientID:  uuid.NewString(),
	}

	var profile User
	if err := client.do(ctx, "logon", http.MethodGet, "/rest/v2/users/profile", nil, nil, &profile); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	client.user = profile

	c.logger.Debug("Logged on to Circuit",
		slog.String("circuit_user_id", profile.UserID),
		slog.String("client_id", client.clientID),
	)

	return client, nil
}

// GetStats returns current connector statistics
func (c *RESTConnector) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}

// Close releases idle connections of the shared transport
func (c *RESTConnector) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *RESTConnector) recordRequest(err error, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	if err != nil {
		c.failedRequests++
		return
	}
	c.successRequests++

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// RESTClient is one authenticated handle on the Circuit REST API
type RESTClient struct {
	connector *RESTConnector
	token     string
	clientID  string
	user      User
	closed    atomic.Bool
}

// CurrentClientID returns the client id this handle registered under
func (c *RESTClient) CurrentClientID() string {
	return c.clientID
}

// User returns the profile of the logged on user
func (c *RESTClient) User() User {
	return c.user
}

// Logout ends the handle. Later calls on it fail with ErrAuthentication.
func (c *RESTClient) Logout(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.roundTrip(ctx, "logout", http.MethodPost, "/rest/v2/logout", nil, nil, nil)
}

// SearchUsers finds users whose name matches query
func (c *RESTClient) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	q := url.Values{"name": {query}}
	if err := c.do(ctx, "searchUsers", http.MethodGet, "/rest/v2/users/search", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchConversationsByName finds conversations whose topic matches query
func (c *RESTClient) SearchConversationsByName(ctx context.Context, query string) ([]Conversation, error) {
	var convs []Conversation
	q := url.Values{"name": {query}}
	if err := c.do(ctx, "searchConversationsByName", http.MethodGet, "/rest/v2/conversations/search", q, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetDirectConversationWithUser looks up the 1:1 conversation with userID,
// creating it when absent and createIfAbsent is set.
func (c *RESTClient) GetDirectConversationWithUser(ctx context.Context, userID string, createIfAbsent bool) (*Conversation, error) {
	var conv Conversation
	q := url.Values{"userId": {userID}}
	err := c.do(ctx, "getDirectConversationWithUser", http.MethodGet, "/rest/v2/conversations/direct", q, nil, &conv)
	if err == nil {
		return &conv, nil
	}
	if !createIfAbsent || !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	body := map[string]string{"participant": userID}
	if err := c.do(ctx, "createDirectConversation", http.MethodPost, "/rest/v2/conversations/direct", nil, body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddTextItem posts text to the conversation convID
func (c *RESTClient) AddTextItem(ctx context.Context, convID, text string) error {
	path := "/rest/v2/conversations/" + url.PathEscape(convID) + "/messages"
	body := map[string]string{"content": text}
	return c.do(ctx, "addTextItem", http.MethodPost, path, nil, body, nil)
}

// GetStartedCalls lists conference calls in progress that the user may join
func (c *RESTClient) GetStartedCalls(ctx context.Context) ([]Call, error) {
	return c.listCalls(ctx, "getStartedCalls", "started")
}

// GetActiveRemoteCalls lists the calls the user is connected to on other clients
func (c *RESTClient) GetActiveRemoteCalls(ctx context.Context) ([]Call, error) {
	return c.listCalls(ctx, "getActiveRemoteCalls", "remote")
}

func (c *RESTClient) listCalls(ctx context.Context, op, state string) ([]Call, error) {
	var calls []Call
	q := url.Values{"state": {state}}
	if err := c.do(ctx, op, http.MethodGet, "/rest/v2/rtc/calls", q, nil, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// GetConversationByID fetches the conversation details, topic included
func (c *RESTClient) GetConversationByID(ctx context.Context, convID string) (*ConversationDetails, error) {
	var details ConversationDetails
	path := "/rest/v2/conversations/" + url.PathEscape(convID)
	if err := c.do(ctx, "getConversationById", http.MethodGet, path, nil, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// JoinConference joins callID on clientID. A call that is gone or full
// yields ErrConference.
func (c *RESTClient) JoinConference(ctx context.Context, callID string, media MediaOptions, clientID string) error {
	path := "/rest/v2/rtc/calls/" + url.PathEscape(callID) + "/join"
	body := struct {
		MediaType MediaOptions `json:"mediaType"`
		ClientID  string       `json:"clientId,omitempty"`
	}{media, clientID}

	err := c.do(ctx, "joinConference", http.MethodPost, path, nil, body, nil)
	if hasStatus(err, http.StatusNotFound, http.StatusConflict, http.StatusGone) {
		return fmt.Errorf("%w: %w", ErrConference, err)
	}
	return err
}

// LeaveConference leaves callID. ErrConference when the user is not in it.
func (c *RESTClient) LeaveConference(ctx context.Context, callID string) error {
	path := "/rest/v2/rtc/calls/" + url.PathEscape(callID) + "/leave"

	err := c.do(ctx, "leaveConference", http.MethodPost, path, nil, nil, nil)
	if hasStatus(err, http.StatusNotFound, http.StatusConflict, http.StatusGone) {
		return fmt.Errorf("%w: %w", ErrConference, err)
	}
	return err
}

// GetDevices lists the clients the user is logged on with
func (c *RESTClient) GetDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.do(ctx, "getDevices", http.MethodGet, "/rest/v2/users/devices", nil, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// SendClickToCallRequest rings email from deviceID. ErrNotOnline when the
// target cannot be reached.
func (c *RESTClient) SendClickToCallRequest(ctx context.Context, email, phoneNumber, deviceID string, isWebRTC bool) error {
	body := struct {
		EmailAddress string `json:"emailAddress"`
		PhoneNumber  string `json:"phoneNumber,omitempty"`
		DeviceID     string `json:"deviceId,omitempty"`
		IsWebRTC     bool   `json:"isWebRTC"`
	}{email, phoneNumber, deviceID, isWebRTC}

	err := c.do(ctx, "sendClickToCallRequest", http.MethodPost, "/rest/v2/rtc/clicktocall", nil, body, nil)
	if hasStatus(err, http.StatusNotFound, http.StatusConflict) {
		return fmt.Errorf("%w: %w", ErrNotOnline, err)
	}
	return err
}

// do performs one API call on behalf of this handle and records it
func (c *RESTClient) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if c.closed.Load() {
		return fmt.Errorf("%s: %w: client logged out", op, ErrAuthentication)
	}
	return c.roundTrip(ctx, op, method, path, query, in, out)
}

func (c *RESTClient) roundTrip(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	startTime := time.Now()
	err := c.doRequest(ctx, op, method, path, query, in, out)
	elapsed := time.Since(startTime)

	c.connector.recordRequest(err, elapsed)
	c.connector.metrics.RecordPlatformCall(op, err, elapsed.Seconds())

	return err
}

// doRequest performs a single HTTP request to the Circuit REST API
func (c *RESTClient) doRequest(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	endpoint := c.connector.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create HTTP request: %w", op, err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	httpReq.Header.Set("X-Circuit-App-Id", c.connector.config.ClientID)
	httpReq.Header.Set("X-Circuit-Client-Id", c.clientID)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.connector.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: HTTP request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to parse response JSON: %w", op, err)
	}

	return nil
}

func hasStatus(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.StatusCode == code {
			return true
		}
	}
	return false
}
