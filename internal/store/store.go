package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message is a persisted chat message. The gateway never mutates content
// after creation; it only tracks per-recipient delivery metadata.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Type           string
	Content        string
	Attachments    []string
	CreatedAt      time.Time
}

// DeliveryStatus is the per-(message, participant) state. Transitions are
// monotonic: queued -> delivered -> read. Read implies delivered.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// rank orders statuses for monotonic updates.
func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryDelivered:
		return 1
	case DeliveryRead:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s already covers other in the monotonic order.
func (s DeliveryStatus) AtLeast(other DeliveryStatus) bool {
	return s.rank() >= other.rank()
}

// Conversation groups participants.
type Conversation struct {
	ID        string
	Type      string // "direct" or "group"
	Name      string
	CreatedAt time.Time
}

// LastMessage is a conversation's cached last-message view.
type LastMessage struct {
	ConversationID string
	MessageID      string
	SenderID       string
	Preview        string
	CreatedAt      time.Time
}

// MessageStore persists messages and per-recipient delivery state.
type MessageStore interface {
	// CreateMessage persists a message with its server-assigned id.
	CreateMessage(ctx context.Context, m *Message) error

	// GetMessage retrieves a message by id.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// MarkDelivered advances the (message, user) status to delivered.
	// Returns false when the status was already delivered or read, or
	// when messageID references no stored message.
	MarkDelivered(ctx context.Context, messageID, userID string, at time.Time) (bool, error)

	// MarkRead advances the (message, user) status to read. Returns false
	// when already read or when messageID references no stored message.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error)

	// DeliveryState returns the current status for a (message, user) pair.
	DeliveryState(ctx context.Context, messageID, userID string) (DeliveryStatus, error)
}

// ConversationStore resolves membership and the last-message cache.
type ConversationStore interface {
	// Participants returns the user ids of all conversation members.
	Participants(ctx context.Context, conversationID string) ([]string, error)

	// IsParticipant reports whether the user belongs to the conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// SetLastMessage updates the conversation's cached last-message view.
	SetLastMessage(ctx context.Context, lm *LastMessage) error

	// GetLastMessage retrieves the cached view, ErrNotFound when unset.
	GetLastMessage(ctx context.Context, conversationID string) (*LastMessage, error)
}

// ContactStore resolves a user's contacts for presence fan-out.
type ContactStore interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
}
