package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
	"github.com/skypro1111/circuit-voice-assistant/internal/session"
)

// fakePlatform is a scriptable platform.Client
type fakePlatform struct {
	mu sync.Mutex

	clientID      string
	users         []platform.User
	convs         []platform.Conversation
	started       []platform.Call
	remote        []platform.Call
	conversations map[string]platform.ConversationDetails
	devices       []platform.Device

	searchErr      error
	addTextErr     error
	joinErr        error
	leaveErr       error
	clickToCallErr error

	sent        []string // "convID:text"
	joined      []string // "callID:clientID"
	left        []string
	clickToCall []string // "email:deviceID"
	directs     []string
}

func (f *fakePlatform) CurrentClientID() string { return f.clientID }

func (f *fakePlatform) Logout(ctx context.Context) error { return nil }

func (f *fakePlatform) SearchUsers(ctx context.Context, query string) ([]platform.User, error) {
	return f.users, f.searchErr
}

func (f *fakePlatform) SearchConversationsByName(ctx context.Context, query string) ([]platform.Conversation, error) {
	return f.convs, f.searchErr
}

func (f *fakePlatform) GetDirectConversationWithUser(ctx context.Context, userID string, createIfAbsent bool) (*platform.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directs = append(f.directs, userID)
	return &platform.Conversation{ConvID: "direct-" + userID}, nil
}

func (f *fakePlatform) AddTextItem(ctx context.Context, convID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addTextErr != nil {
		return f.addTextErr
	}
	f.sent = append(f.sent, convID+":"+text)
	return nil
}

func (f *fakePlatform) GetStartedCalls(ctx context.Context) ([]platform.Call, error) {
	return f.started, nil
}

func (f *fakePlatform) GetActiveRemoteCalls(ctx context.Context) ([]platform.Call, error) {
	return f.remote, nil
}

func (f *fakePlatform) GetConversationByID(ctx context.Context, convID string) (*platform.ConversationDetails, error) {
	details, ok := f.conversations[convID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", convID, platform.ErrNotFound)
	}
	return &details, nil
}

func (f *fakePlatform) JoinConference(ctx context.Context, callID string, media platform.MediaOptions, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	if !media.Audio || media.Video {
		return errors.New("unexpected media options")
	}
	f.joined = append(f.joined, callID+":"+clientID)
	return nil
}

func (f *fakePlatform) LeaveConference(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveErr != nil {
		return f.leaveErr
	}
	f.left = append(f.left, callID)
	return nil
}

func (f *fakePlatform) GetDevices(ctx context.Context) ([]platform.Device, error) {
	return f.devices, nil
}

func (f *fakePlatform) SendClickToCallRequest(ctx context.Context, email, phoneNumber, deviceID string, isWebRTC bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clickToCallErr != nil {
		return f.clickToCallErr
	}
	f.clickToCall = append(f.clickToCall, email+":"+deviceID)
	return nil
}

// stubSessions hands out one fixed client
type stubSessions struct {
	client     platform.Client
	err        error
	resolves   int
	prefetches int
}

func (s *stubSessions) Resolve(ctx context.Context, id session.Identity) (platform.Client, error) {
	s.resolves++
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

func (s *stubSessions) Prefetch(id session.Identity) { s.prefetches++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(sessions Sessions) *Router {
	r := NewRouter(discardLogger(), nil)
	New(discardLogger(), sessions).Register(r)
	return r
}

const testSession = "projects/va/agent/sessions/s1"

// turn is a webhook request under construction
type turn struct {
	intent   string
	params   map[string]any
	contexts []dialog.Context
}

func newTurn(intent string) *turn {
	return &turn{intent: intent, params: map[string]any{}}
}

func (t *turn) param(name string, value any) *turn {
	t.params[name] = value
	return t
}

func (t *turn) context(name string, params map[string]any) *turn {
	t.contexts = append(t.contexts, dialog.Context{
		Name:          testSession + "/contexts/" + name,
		LifespanCount: 3,
		Parameters:    params,
	})
	return t
}

func (t *turn) conversation() *dialog.Conversation {
	req := &dialog.Request{Session: testSession}
	req.QueryResult.Intent.DisplayName = t.intent
	req.QueryResult.Parameters = t.params
	req.QueryResult.OutputContexts = t.contexts
	req.OriginalDetectIntentRequest.Payload.User = dialog.User{UserID: "user-1", AccessToken: "tok"}
	return dialog.NewConversation(req)
}

// reply is the dispatched response flattened for assertions
type reply struct {
	resp        *dialog.Response
	text        string
	suggestions []string
	open        bool
}

func dispatch(t *testing.T, r *Router, tr *turn) reply {
	t.Helper()
	resp := r.Dispatch(context.Background(), tr.conversation())
	require.NotNil(t, resp)

	out := reply{resp: resp, text: resp.FulfillmentText}
	if resp.Payload != nil {
		out.open = resp.Payload.Google.ExpectUserResponse
		for _, s := range resp.Payload.Google.RichResponse.Suggestions {
			out.suggestions = append(out.suggestions, s.Title)
		}
	}
	return out
}

// outputContext returns the reply's context with the given short name
func (r reply) outputContext(name string) (dialog.Context, bool) {
	for _, c := range r.resp.OutputContexts {
		if c.ShortName() == name {
			return c, true
		}
	}
	return dialog.Context{}, false
}

func (r reply) hasText(sub string) bool {
	return strings.Contains(r.text, sub)
}
