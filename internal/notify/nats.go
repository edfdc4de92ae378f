package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// subject: lumachat.push.<user>
func pushSubject(userID string) string { return "lumachat.push." + userID }

// NATSNotifier implements collab.Notifier over NATS core publish.
type NATSNotifier struct {
	nc *nats.Conn
}

// NewNATS connects to the broker.
func NewNATS(url, name string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{nc: nc}, nil
}

// queuedMessagePayload is the wake-up body for an offline recipient.
type queuedMessagePayload struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
	SentAt         int64  `json:"sentAt"`
}

// incomingCallPayload is the wake-up body for a ringing call.
type incomingCallPayload struct {
	Kind     string `json:"kind"`
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	CallType string `json:"callType"`
	SentAt   int64  `json:"sentAt"`
}

// MessageQueued publishes a queued-message wake-up.
func (n *NATSNotifier) MessageQueued(_ context.Context, userID, conversationID, messageID, senderID, preview string) error {
	body, err := json.Marshal(queuedMessagePayload{
		Kind:           "message_queued",
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderID:       senderID,
		Preview:        preview,
		SentAt:         time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(pushSubject(userID), body)
}

// IncomingCall publishes a ringing-call wake-up.
func (n *NATSNotifier) IncomingCall(_ context.Context, userID, callID, callerID, callType string) error {
	body, err := json.Marshal(incomingCallPayload{
		Kind:     "incoming_call",
		CallID:   callID,
		CallerID: callerID,
		CallType: callType,
		SentAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return n.nc.Publish(pushSubject(userID), body)
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
