package dialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingContext is returned when a turn needs a context or context
// parameter the dialogue did not carry.
var ErrMissingContext = errors.New("missing dialogue context")

// Conversation is one dialogue turn: the decoded request plus the reply
// being built for it. It is not safe for concurrent use.
type Conversation struct {
	req    *Request
	inputs map[string]Context

	texts       []string
	suggestions []string
	contexts    []Context
	followup    string
	closed      bool
}

// NewConversation starts a turn for req
func NewConversation(req *Request) *Conversation {
	inputs := make(map[string]Context, len(req.QueryResult.OutputContexts))
	for _, c := range req.QueryResult.OutputContexts {
		inputs[c.ShortName()] = c
	}
	return &Conversation{req: req, inputs: inputs}
}

// Intent returns the display name of the matched intent
func (c *Conversation) Intent() string {
	return c.req.QueryResult.Intent.DisplayName
}

// UserID returns the voice-platform user id. Requests without one fall back
// to the dialogue session path so the turn still has a stable key.
func (c *Conversation) UserID() string {
	if id := c.req.OriginalDetectIntentRequest.Payload.User.UserID; id != "" {
		return id
	}
	return c.req.Session
}

// AccessToken returns the linked-account token of the user
func (c *Conversation) AccessToken() string {
	return c.req.OriginalDetectIntentRequest.Payload.User.AccessToken
}

// Param returns a string query parameter, or "" when absent
func (c *Conversation) Param(name string) string {
	return stringValue(c.req.QueryResult.Parameters[name])
}

// InputContext returns the live context with the given short name
func (c *Conversation) InputContext(name string) (Context, bool) {
	ctx, ok := c.inputs[name]
	return ctx, ok
}

// ContextParam returns a string parameter of an input context, or "" when
// either is absent.
func (c *Conversation) ContextParam(contextName, param string) string {
	ctx, ok := c.inputs[contextName]
	if !ok {
		return ""
	}
	return stringValue(ctx.Parameters[param])
}

// ContextValue decodes a parameter of an input context into dst.
func (c *Conversation) ContextValue(contextName, param string, dst any) error {
	ctx, ok := c.inputs[contextName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingContext, contextName)
	}
	raw, ok := ctx.Parameters[param]
	if !ok || raw == nil {
		return fmt.Errorf("%w: %s.%s", ErrMissingContext, contextName, param)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode context parameter %s.%s: %w", contextName, param, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode context parameter %s.%s: %w", contextName, param, err)
	}
	return nil
}

// RequireContextParam is ContextParam that fails when the value is empty
func (c *Conversation) RequireContextParam(contextName, param string) (string, error) {
	v := c.ContextParam(contextName, param)
	if v == "" {
		return "", fmt.Errorf("%w: %s.%s", ErrMissingContext, contextName, param)
	}
	return v, nil
}

// Ask adds a spoken prompt and keeps the microphone open
func (c *Conversation) Ask(text string, suggestions ...string) {
	c.texts = append(c.texts, text)
	c.Suggest(suggestions...)
}

// Suggest adds suggestion chips to the reply
func (c *Conversation) Suggest(suggestions ...string) {
	c.suggestions = append(c.suggestions, suggestions...)
}

// SetContext sets an output context for the next turns. A later call for
// the same name overrides an earlier one.
func (c *Conversation) SetContext(name string, lifespan int, params map[string]any) {
	full := c.contextPath(name)
	for i := range c.contexts {
		if c.contexts[i].Name == full {
			c.contexts[i] = Context{Name: full, LifespanCount: lifespan, Parameters: params}
			return
		}
	}
	c.contexts = append(c.contexts, Context{Name: full, LifespanCount: lifespan, Parameters: params})
}

// DeleteContext expires a context
func (c *Conversation) DeleteContext(name string) {
	c.SetContext(name, 0, nil)
}

// Close adds the final prompts and ends the conversation
func (c *Conversation) Close(texts ...string) {
	c.texts = append(c.texts, texts...)
	c.closed = true
}

// Closed reports whether the conversation ends with this turn
func (c *Conversation) Closed() bool { return c.closed }

// Followup triggers the intent bound to the given event instead of replying
func (c *Conversation) Followup(event string) {
	c.followup = event
}

// Reset drops everything added to the reply so far
func (c *Conversation) Reset() {
	c.texts = nil
	c.suggestions = nil
	c.contexts = nil
	c.followup = ""
	c.closed = false
}

// Response builds the webhook reply for the turn
func (c *Conversation) Response() *Response {
	resp := &Response{OutputContexts: c.contexts}

	if c.followup != "" {
		resp.FollowupEventInput = &EventInput{
			Name:         c.followup,
			LanguageCode: c.languageCode(),
		}
		return resp
	}

	rich := &RichResponse{Items: make([]Item, 0, len(c.texts))}
	for _, text := range c.texts {
		rich.Items = append(rich.Items, Item{SimpleResponse: &SimpleResponse{TextToSpeech: text}})
	}
	// Suggestion chips are not shown on a closing reply.
	if !c.closed {
		for _, s := range c.suggestions {
			rich.Suggestions = append(rich.Suggestions, Suggestion{Title: s})
		}
	}

	resp.FulfillmentText = strings.Join(c.texts, " ")
	resp.Payload = &ResponsePayload{Google: GooglePayload{
		ExpectUserResponse: !c.closed,
		RichResponse:       rich,
	}}
	return resp
}

func (c *Conversation) contextPath(name string) string {
	return c.req.Session + "/contexts/" + name
}

func (c *Conversation) languageCode() string {
	if c.req.QueryResult.LanguageCode != "" {
		return c.req.QueryResult.LanguageCode
	}
	return "en"
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []any:
		// list parameters carry the first value
		if len(s) > 0 {
			return stringValue(s[0])
		}
		return ""
	default:
		return fmt.Sprint(s)
	}
}
