package dialog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxRequestSize bounds the size of a decoded webhook body.
const MaxRequestSize = 1 << 20

// ErrInvalidRequest is returned when a webhook body cannot be used as a turn.
var ErrInvalidRequest = errors.New("invalid webhook request")

// Request is a Dialogflow v2 WebhookRequest
type Request struct {
	ResponseID                  string          `json:"responseId"`
	Session                     string          `json:"session"`
	QueryResult                 QueryResult     `json:"queryResult"`
	OriginalDetectIntentRequest OriginalRequest `json:"originalDetectIntentRequest"`
}

// QueryResult is the matched intent with its parameters and live contexts
type QueryResult struct {
	QueryText      string         `json:"queryText"`
	LanguageCode   string         `json:"languageCode"`
	Parameters     map[string]any `json:"parameters"`
	Intent         Intent         `json:"intent"`
	OutputContexts []Context      `json:"outputContexts"`
}

// Intent identifies the matched intent
type Intent struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Context is a named dialogue context. A lifespan of zero deletes it.
type Context struct {
	Name          string         `json:"name"`
	LifespanCount int            `json:"lifespanCount"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// ShortName returns the last path segment of the context name
func (c Context) ShortName() string {
	if i := strings.LastIndex(c.Name, "/"); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// OriginalRequest carries the integration payload, here Actions on Google
type OriginalRequest struct {
	Source  string  `json:"source"`
	Version string  `json:"version"`
	Payload Payload `json:"payload"`
}

// Payload is the part of the Actions on Google request that is used
type Payload struct {
	User         User                `json:"user"`
	Conversation PayloadConversation `json:"conversation"`
}

// User is the voice-platform user, with the linked account token
type User struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	Locale      string `json:"locale"`
}

// PayloadConversation identifies the voice-platform conversation
type PayloadConversation struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
}

// Decode reads one webhook request from r
func Decode(r io.Reader) (*Request, error) {
	var req Request
	dec := json.NewDecoder(io.LimitReader(r, MaxRequestSize))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.QueryResult.Intent.DisplayName == "" {
		return nil, fmt.Errorf("%w: missing intent", ErrInvalidRequest)
	}
	if req.Session == "" {
		return nil, fmt.Errorf("%w: missing session", ErrInvalidRequest)
	}
	return &req, nil
}

// Response is a Dialogflow v2 WebhookResponse
type Response struct {
	FulfillmentText    string           `json:"fulfillmentText,omitempty"`
	Payload            *ResponsePayload `json:"payload,omitempty"`
	OutputContexts     []Context        `json:"outputContexts,omitempty"`
	FollowupEventInput *EventInput      `json:"followupEventInput,omitempty"`
}

// ResponsePayload wraps the Actions on Google reply
type ResponsePayload struct {
	Google GooglePayload `json:"google"`
}

// GooglePayload is the Actions on Google reply
type GooglePayload struct {
	ExpectUserResponse bool          `json:"expectUserResponse"`
	RichResponse       *RichResponse `json:"richResponse,omitempty"`
}

// RichResponse holds the spoken items and the suggestion chips
type RichResponse struct {
	Items       []Item       `json:"items"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Item is one entry of a rich response
type Item struct {
	SimpleResponse *SimpleResponse `json:"simpleResponse,omitempty"`
}

// SimpleResponse is text or SSML to be spoken
type SimpleResponse struct {
	TextToSpeech string `json:"textToSpeech"`
}

// Suggestion is a chip offered to the user
type Suggestion struct {
	Title string `json:"title"`
}

// EventInput triggers another intent by event name
type EventInput struct {
	Name         string         `json:"name"`
	LanguageCode string         `json:"languageCode"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}
