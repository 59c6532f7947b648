package platform

import "context"

// Device types reported in ClientInfo.DeviceType.
const (
	DeviceTypeWeb         = "WEB"
	DeviceTypeApplication = "APPLICATION"
	DeviceSubtypeDesktop  = "DESKTOP_APP"
)

// User is a search hit for a platform user.
type User struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Conversation identifies a conversation by id and topic.
type Conversation struct {
	ConvID string `json:"convId"`
	Topic  string `json:"topic"`
}

// ConversationDetails is the full conversation record used to title calls.
type ConversationDetails struct {
	ConvID           string   `json:"convId"`
	Topic            string   `json:"topic"`
	TopicPlaceholder string   `json:"topicPlaceholder"`
	Participants     []string `json:"participants"`
}

// Call is a started or active remote call attached to a conversation.
type Call struct {
	CallID string `json:"callId"`
	ConvID string `json:"convId"`
}

// ClientInfo describes the kind of client a device runs.
type ClientInfo struct {
	DeviceType    string `json:"deviceType"`
	DeviceSubtype string `json:"deviceSubtype"`
}

// Device is one logged-on client of the current user.
type Device struct {
	ClientID   string     `json:"clientId"`
	ClientInfo ClientInfo `json:"clientInfo"`
}

// MediaOptions selects the media used when joining a conference.
type MediaOptions struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Client is an authenticated handle on the platform. Implementations must be
// safe for concurrent use; turns from the same user may overlap.
type Client interface {
	// CurrentClientID is the client id this handle is registered under.
	CurrentClientID() string

	// Logout releases the handle. Callers treat it as best-effort.
	Logout(ctx context.Context) error

	SearchUsers(ctx context.Context, query string) ([]User, error)
	SearchConversationsByName(ctx context.Context, query string) ([]Conversation, error)
	GetDirectConversationWithUser(ctx context.Context, userID string, createIfAbsent bool) (*Conversation, error)
	AddTextItem(ctx context.Context, convID, text string) error

	GetStartedCalls(ctx context.Context) ([]Call, error)
	GetActiveRemoteCalls(ctx context.Context) ([]Call, error)
	GetConversationByID(ctx context.Context, convID string) (*ConversationDetails, error)

	// JoinConference fails with ErrConference when the call cannot be joined.
	JoinConference(ctx context.Context, callID string, media MediaOptions, clientID string) error
	// LeaveConference fails with ErrConference if the user already departed.
	LeaveConference(ctx context.Context, callID string) error

	GetDevices(ctx context.Context) ([]Device, error)
	// SendClickToCallRequest fails with ErrNotOnline if the target device is not logged on.
	SendClickToCallRequest(ctx context.Context, email, phoneNumber, deviceID string, isWebRTC bool) error
}

// Connector authenticates access tokens into Client handles.
type Connector interface {
	// Connect fails with ErrAuthentication when the token is rejected.
	Connect(ctx context.Context, accessToken string) (Client, error)
}
