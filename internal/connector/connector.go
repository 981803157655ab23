// Package connector defines the boundary to external messaging platforms.
// The conversation core is connector-agnostic: it consumes inbound events
// and produces outbound sends through the interfaces here.
package connector

import "context"

// Connector is the interface for external messaging platforms (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound text message, optionally with action buttons.
	Send(ctx context.Context, msg OutboundMessage) error
	// SendFile delivers a binary file to a chat.
	SendFile(ctx context.Context, f File) error
}

// Action is a button offered under an outbound message.
type Action struct {
	Label string // Button caption
	Data  string // Opaque callback payload, e.g. "clarify:123"
}

// OutboundMessage is a reply sent from the core to an external platform.
type OutboundMessage struct {
	ChatID  string   // Platform-specific chat identifier
	Content string   // Message text
	Actions []Action // Optional action buttons
}

// File is a binary payload re-delivered into a chat.
type File struct {
	ChatID string
	Name   string
	Data   []byte
}

// Attachment is an inbound file reference already resolved by the connector
// to a fetchable URL.
type Attachment struct {
	Name string
	URL  string
}

// InboundMessage is an event received from an external platform.
type InboundMessage struct {
	Channel     string       // Connector name (e.g., "telegram")
	ChatID      string       // Platform-specific chat identifier
	SenderID    string       // Platform-specific sender identifier
	Username    string       // Sender handle, if the platform has one
	DisplayName string       // Sender's human name
	Content     string       // Message text or attachment caption
	Attachments []Attachment // Non-empty for attachment events
}

// InboundHandler processes events received from external platforms.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// CallbackHandler processes action-button presses.
type CallbackHandler func(ctx context.Context, chatID, senderID, data string)

// Sender is the outbound half of a Connector, for components that only
// deliver replies.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
	SendFile(ctx context.Context, f File) error
}
