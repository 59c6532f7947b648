package assistant

import (
	"context"
	"errors"
	"html"
	"log/slog"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
	"github.com/skypro1111/circuit-voice-assistant/internal/session"
)

// Intent display names of the dialogue agent.
const (
	IntentWelcome = "Default Welcome Intent"

	IntentSendMessage              = "send.message"
	IntentSendMessageCollectTarget = "send.message - collect.target"
	IntentSendMessageYes           = "send.message - yes"
	IntentSendMessageNo            = "send.message - no"

	IntentJoinConference              = "join.conference"
	IntentJoinConferenceCollectTarget = "join.conference - collect.target"
	IntentJoinConferenceYes           = "join.conference - yes"
	IntentJoinConferenceNo            = "join.conference - no"

	IntentLeaveConference              = "leave.conference"
	IntentLeaveConferenceCollectTarget = "leave.conference - collect.target"
	IntentLeaveConferenceYes           = "leave.conference - yes"
	IntentLeaveConferenceNo            = "leave.conference - no"

	IntentCallUser              = "call.user"
	IntentCallUserCollectTarget = "call.user - collect target"
	IntentCallUserYes           = "call.user - yes"
	IntentCallUserNo            = "call.user - no"

	IntentAnythingElseYes = "anything.else - yes"
	IntentAnythingElseNo  = "anything.else - no"
)

// Dialogue contexts and their lifespans in turns.
const (
	ctxSendMessageData      = "sendmessage_data"
	ctxSendMessageGetConv   = "sendmessage_getconv"
	ctxSendMessageSend      = "sendmessage_send"
	ctxJoinConferenceTarget = "joinconference_gettarget"
	ctxJoinConferenceSend   = "joinconference_send"
	ctxLeaveConferenceTgt   = "leaveconference_gettarget"
	ctxLeaveConferenceSend  = "leaveconference_send"
	ctxCallUserGetUser      = "calluser_getuser"
	ctxCallUserData         = "calluser_data"
	ctxAnythingElse         = "anything_else"

	confirmLifespan      = 5
	anythingElseLifespan = 2
)

// EventWelcome restarts the dialogue at the welcome intent.
const EventWelcome = "Welcome"

const (
	promptNoSession    = "No circuit session found. Start over please."
	promptWelcome      = "What can I do for you?"
	promptAnythingElse = "Is there anything else I can do for you?"
	promptGoodBye      = "Good Bye"
)

var (
	welcomeSuggestions      = []string{"Send a message", "Make a call", "Join a conference", "Leave a conference"}
	anythingElseSuggestions = []string{"No, that's all", "Yes"}
)

// errNoSession marks a turn that ended because no platform session could
// be resolved. The reply is already set when it is returned.
var errNoSession = errors.New("no platform session")

// Sessions resolves the platform handle for a dialogue user
type Sessions interface {
	Resolve(ctx context.Context, id session.Identity) (platform.Client, error)
	Prefetch(id session.Identity)
}

// Assistant holds the intent handlers of the voice assistant
type Assistant struct {
	logger   *slog.Logger
	sessions Sessions
}

// New creates the assistant over a session source
func New(logger *slog.Logger, sessions Sessions) *Assistant {
	return &Assistant{
		logger:   logger,
		sessions: sessions,
	}
}

// Register binds every intent handler to r
func (a *Assistant) Register(r *Router) {
	r.Handle(IntentWelcome, a.welcome)

	r.Handle(IntentSendMessage, a.sendMessage)
	r.Handle(IntentSendMessageCollectTarget, a.sendMessageCollectTarget)
	r.Handle(IntentSendMessageYes, a.sendMessageYes)
	r.Handle(IntentSendMessageNo, a.sendMessageNo)

	r.Handle(IntentJoinConference, a.joinConference)
	r.Handle(IntentJoinConferenceCollectTarget, a.joinConferenceCollectTarget)
	r.Handle(IntentJoinConferenceYes, a.joinConferenceYes)
	r.Handle(IntentJoinConferenceNo, a.joinConferenceNo)

	r.Handle(IntentLeaveConference, a.leaveConference)
	r.Handle(IntentLeaveConferenceCollectTarget, a.leaveConferenceCollectTarget)
	r.Handle(IntentLeaveConferenceYes, a.leaveConferenceYes)
	r.Handle(IntentLeaveConferenceNo, a.leaveConferenceNo)

	r.Handle(IntentCallUser, a.callUser)
	r.Handle(IntentCallUserCollectTarget, a.callUser)
	r.Handle(IntentCallUserYes, a.callUserYes)
	r.Handle(IntentCallUserNo, a.callUserNo)

	r.Handle(IntentAnythingElseYes, a.anythingElseYes)
	r.Handle(IntentAnythingElseNo, a.anythingElseNo)
}

func identityOf(conv *dialog.Conversation) session.Identity {
	return session.Identity{UserID: conv.UserID(), AccessToken: conv.AccessToken()}
}

// client resolves the user's platform handle. On failure the conversation
// is closed with a start-over prompt and errNoSession is returned.
func (a *Assistant) client(ctx context.Context, conv *dialog.Conversation) (platform.Client, error) {
	client, err := a.sessions.Resolve(ctx, identityOf(conv))
	if err != nil {
		a.logger.Warn("No Circuit session for turn",
			slog.String("user_id", conv.UserID()),
			slog.String("intent", conv.Intent()),
			slog.String("error", err.Error()),
		)
		conv.Ask(promptNoSession)
		conv.Close()
		return nil, errNoSession
	}
	return client, nil
}

// anythingElse asks whether the user wants something else, after an
// optional lead-in.
func anythingElse(conv *dialog.Conversation, lead string) {
	prompt := promptAnythingElse
	if lead != "" {
		prompt = lead + " " + promptAnythingElse
	}
	conv.Ask(prompt, anythingElseSuggestions...)
	conv.SetContext(ctxAnythingElse, anythingElseLifespan, nil)
}

// speak wraps text in an SSML envelope
func speak(text string) string {
	return "<speak>" + text + "</speak>"
}

// pause is a half-second SSML break
const pause = `<break time="0.5s"/>`

// ssml escapes user-supplied text for inclusion in SSML
func ssml(s string) string {
	return html.EscapeString(s)
}

// welcome logs the user on in the background so the session is ready by
// the time a later turn needs it.
func (a *Assistant) welcome(ctx context.Context, conv *dialog.Conversation) error {
	a.sessions.Prefetch(identityOf(conv))

	conv.Ask(promptWelcome, welcomeSuggestions...)
	return nil
}

func (a *Assistant) anythingElseYes(ctx context.Context, conv *dialog.Conversation) error {
	conv.Followup(EventWelcome)
	return nil
}

func (a *Assistant) anythingElseNo(ctx context.Context, conv *dialog.Conversation) error {
	conv.Ask(promptGoodBye)
	conv.Close()
	return nil
}
