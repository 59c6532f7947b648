package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
)

// Defaults applied by NewManager to unset ManagerConfig fields.
const (
	// DefaultTimeout is the fixed lifetime of a session, counted from logon
	DefaultTimeout = 5 * time.Minute
	// DefaultAuthTimeout bounds one logon
	DefaultAuthTimeout = 10 * time.Second
	// DefaultLogoutTimeout bounds one best-effort logout
	DefaultLogoutTimeout = 5 * time.Second
)

// Teardown reasons, used as the metrics label.
const (
	reasonExplicit = "explicit"
	reasonTimeout  = "timeout"
	reasonReplaced = "replaced"
	reasonShutdown = "shutdown"
)

// ErrClosed is returned when a session is requested after DestroyAll.
var ErrClosed = errors.New("session manager closed")

// Identity is the voice-platform user a turn belongs to.
type Identity struct {
	UserID      string
	AccessToken string
}

// Session binds one voice-platform user to an authenticated platform handle.
type Session struct {
	UserID    string
	Client    platform.Client
	CreatedAt time.Time
	ExpiresAt time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// stop cancels the expiry timer. It reports false if the session was
// already stopped.
func (s *Session) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}

// Info is the monitoring view of a session
type Info struct {
	UserID    string        `json:"user_id"`
	ClientID  string        `json:"client_id"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"remaining"`
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	// Timeout is the hard lifetime of a session, counted from creation.
	Timeout       time.Duration
	AuthTimeout   time.Duration
	LogoutTimeout time.Duration
}

// Manager creates, reuses, expires and tears down platform sessions
type Manager struct {
	logger    *slog.Logger
	connector platform.Connector
	store     *Store
	config    ManagerConfig
	metrics   *metrics.Metrics

	inflight singleflight.Group
	closed   atomic.Bool
	// bgMu orders Prefetch and session registration against DestroyAll.
	bgMu       sync.Mutex
	background sync.WaitGroup
}

// NewManager creates a session manager over store. A nil store gets a fresh one.
func NewManager(logger *slog.Logger, connector platform.Connector, store *Store, config ManagerConfig, m *metrics.Metrics) *Manager {
	if store == nil {
		store = NewStore()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = DefaultAuthTimeout
	}
	if config.LogoutTimeout <= 0 {
		config.LogoutTimeout = DefaultLogoutTimeout
	}

	return &Manager{
		logger:    logger,
		connector: connector,
		store:     store,
		config:    config,
		metrics:   m,
	}
}

// Resolve returns the client of the user's live session, creating the
// session when there is none. Concurrent resolves for the same user share
// one logon. Logon failures satisfy errors.Is(err, platform.ErrAuthentication)
// and leave nothing registered.
func (m *Manager) Resolve(ctx context.Context, id Identity) (platform.Client, error) {
	if session, exists := m.store.Get(id.UserID); exists {
		return session.Client, nil
	}

	// The logon must not be bound to whichever caller started it.
	createCtx := context.WithoutCancel(ctx)
	ch := m.inflight.DoChan(id.UserID, func() (interface{}, error) {
		if session, exists := m.store.Get(id.UserID); exists {
			return session, nil
		}
		return m.Create(createCtx, id)
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.RecordCoalescedResolve()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session).Client, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", platform.ErrAuthentication, ctx.Err())
	}
}

// Create logs on with the identity's access token, tears down any session
// already registered for the user, then registers the new session and arms
// its expiry timer.
func (m *Manager) Create(ctx context.Context, id Identity) (*Session, error) {
	if id.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", platform.ErrAuthentication)
	}
	if id.AccessToken == "" {
		m.metrics.RecordAuthenticationError()
		return nil, fmt.Errorf("%w: missing access token", platform.ErrAuthentication)
	}
	if m.closed.Load() {
		return nil, ErrClosed
	}

	authCtx, cancel := context.WithTimeout(ctx, m.config.AuthTimeout)
	defer cancel()

	client, err := m.connector.Connect(authCtx, id.AccessToken)
	if err != nil {
		m.metrics.RecordAuthenticationError()
		m.logger.Error("Unable to logon to Circuit",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		if !errors.Is(err, platform.ErrAuthentication) {
			err = fmt.Errorf("%w: %w", platform.ErrAuthentication, err)
		}
		return nil, err
	}

	if existing, exists := m.store.Take(id.UserID); exists {
		m.logger.Warn("Session already existed, replacing it",
			slog.String("user_id", id.UserID),
		)
		m.teardown(ctx, existing, reasonReplaced)
	}

	now := time.Now()
	session := &Session{
		UserID:    id.UserID,
		Client:    client,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.Timeout),
	}

	// Arm under the session lock so a concurrent Destroy waits for the timer.
	session.mu.Lock()
	m.bgMu.Lock()
	if m.closed.Load() {
		m.bgMu.Unlock()
		session.mu.Unlock()
		m.logout(ctx, id.UserID, client)
		return nil, ErrClosed
	}
	raced := m.store.Put(session)
	session.timer = time.AfterFunc(m.config.Timeout, func() { m.expire(session) })
	m.bgMu.Unlock()
	session.mu.Unlock()

	if raced != nil {
		m.teardown(ctx, raced, reasonReplaced)
	}

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(m.store.Len())

	m.logger.Info("Created new Circuit session",
		slog.String("user_id", id.UserID),
		slog.String("client_id", client.CurrentClientID()),
		slog.Duration("timeout", m.config.Timeout),
	)

	return session, nil
}

// Destroy tears down the user's session. It is a no-op for unknown users
// and never reports logout failures.
func (m *Manager) Destroy(ctx context.Context, userID string) error {
	session, exists := m.store.Take(userID)
	if !exists {
		return nil
	}

	m.teardown(ctx, session, reasonExplicit)
	return nil
}

// DestroyAll tears down every live session concurrently and waits for all
// of them. Every teardown is attempted; logout failures are returned
// together for the caller to log.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.bgMu.Lock()
	m.closed.Store(true)
	m.bgMu.Unlock()
	m.background.Wait()

	sessions := m.store.Drain()
	m.logger.Info("Destroying all sessions", slog.Int("count", len(sessions)))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := m.teardown(ctx, s, reasonShutdown); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("logout %s: %w", s.UserID, err))
				mu.Unlock()
			}
		}(session)
	}
	wg.Wait()

	return result.ErrorOrNil()
}

// Prefetch creates the user's session in the background so it is ready by
// the time a later turn needs it.
func (m *Manager) Prefetch(id Identity) {
	if _, exists := m.store.Get(id.UserID); exists {
		return
	}

	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed.Load() {
		return
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		if _, err := m.Resolve(context.Background(), id); err != nil {
			m.logger.Warn("Session prefetch failed",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Get returns the live session for userID without creating one
func (m *Manager) Get(userID string) (*Session, bool) {
	return m.store.Get(userID)
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	return m.store.Len()
}

// Sessions returns a monitoring snapshot of all live sessions
func (m *Manager) Sessions() []Info {
	now := time.Now()
	sessions := m.store.Snapshot()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		remaining := s.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		infos = append(infos, Info{
			UserID:    s.UserID,
			ClientID:  s.Client.CurrentClientID(),
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Remaining: remaining,
		})
	}
	return infos
}

// expire runs on the session's timer. A session that was replaced or
// destroyed in the meantime is left alone.
func (m *Manager) expire(session *Session) {
	if !m.store.Delete(session) {
		return
	}

	m.logger.Info("Session timed out",
		slog.String("user_id", session.UserID),
		slog.Duration("lifetime", time.Since(session.CreatedAt)),
	)
	m.teardown(context.Background(), session, reasonTimeout)
}

// teardown stops the timer and logs the client out. The session must
// already be out of the store.
func (m *Manager) teardown(ctx context.Context, session *Session, reason string) error {
	if !session.stop() {
		return nil
	}

	err := m.logout(ctx, session.UserID, session.Client)

	m.metrics.RecordSessionDestroyed(reason, time.Since(session.CreatedAt).Seconds())
	m.metrics.SetActiveSessions(m.store.Len())

	m.logger.Info("Session removed",
		slog.String("user_id", session.UserID),
		slog.String("reason", reason),
		slog.Duration("lifetime", time.Since(session.CreatedAt)),
	)

	return err
}

func (m *Manager) logout(ctx context.Context, userID string, client platform.Client) error {
	logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.LogoutTimeout)
	defer cancel()

	if err := client.Logout(logoutCtx); err != nil {
		m.logger.Warn("Error logging out of Circuit",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
