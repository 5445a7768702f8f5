package domain

import "context"

// Message types delivered by the channel gateway.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// InboundMessage is a user message delivered by a channel gateway.
type InboundMessage struct {
	SenderID    string
	SenderName  string
	Content     string
	MessageType string // MessageTypeText or MessageTypeImage
	Image       []byte // resolved media bytes for image messages
	ChannelName string
}

// OutboundMessage is a reply to send back through a channel gateway.
type OutboundMessage struct {
	RecipientID string
	Content     string
	IsError     bool
}

// MessageHandler processes one inbound message.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// Channel is an inbound/outbound message transport.
type Channel interface {
	// Start begins receiving messages. Non-blocking.
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	Name() string
}
