package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/skypro1111/circuit-voice-assistant/internal/dialog"
	"github.com/skypro1111/circuit-voice-assistant/internal/metrics"
)

// Intent outcomes, used as the metrics label.
const (
	outcomeOK        = "ok"
	outcomeNoSession = "no_session"
	outcomeUnknown   = "unknown"
	outcomeError     = "error"
	outcomePanic     = "panic"
)

const (
	promptUnknown = "Sorry, I didn't get that."
	promptOops    = "Oops. Something went wrong."
)

// Handler handles one dialogue turn of an intent. Returned errors end the
// conversation with a generic apology.
type Handler func(ctx context.Context, conv *dialog.Conversation) error

// Router dispatches dialogue turns to intent handlers
type Router struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	handlers map[string]Handler
}

// NewRouter creates an empty router
func NewRouter(logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		logger:   logger,
		metrics:  m,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for the intent with the given display name
func (r *Router) Handle(intent string, h Handler) {
	r.handlers[intent] = h
}

// Intents returns the number of registered intents
func (r *Router) Intents() int {
	return len(r.handlers)
}

// Dispatch runs the handler for the turn's intent and returns the reply.
// It never fails: unknown intents get a re-prompt, handler errors and
// panics close the conversation with an apology.
func (r *Router) Dispatch(ctx context.Context, conv *dialog.Conversation) *dialog.Response {
	start := time.Now()
	intent := conv.Intent()

	outcome := r.run(ctx, intent, conv)

	r.metrics.RecordIntent(intent, outcome, time.Since(start).Seconds())
	r.logger.Debug("Intent handled",
		slog.String("intent", intent),
		slog.String("user_id", conv.UserID()),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(start)),
	)

	return conv.Response()
}

func (r *Router) run(ctx context.Context, intent string, conv *dialog.Conversation) (outcome string) {
	h, ok := r.handlers[intent]
	if !ok {
		r.logger.Warn("Unknown intent", slog.String("intent", intent))
		conv.Ask(promptUnknown)
		return outcomeUnknown
	}

	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("Intent handler panic",
				slog.String("intent", intent),
				slog.String("panic", fmt.Sprint(v)),
				slog.String("stack", string(debug.Stack())),
			)
			conv.Reset()
			conv.Close(promptOops)
			outcome = outcomePanic
		}
	}()

	err := h(ctx, conv)
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, errNoSession):
		// the reply was already set
		return outcomeNoSession
	default:
		r.logger.Error("Intent handler failed",
			slog.String("intent", intent),
			slog.String("user_id", conv.UserID()),
			slog.String("error", err.Error()),
		)
		conv.Reset()
		conv.Close(promptOops)
		return outcomeError
	}
}
