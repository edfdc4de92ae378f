package proto

import "encoding/json"

// AuthenticateData is the required first frame on every connection.
type AuthenticateData struct {
	Token      string `json:"token"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	Platform   string `json:"platform"`
}

// AuthenticatedData confirms the handshake.
type AuthenticatedData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ConnID   string `json:"connectionId"`
}

// SendMessageData carries a new message from a client. LocalID is the
// client-side correlation id echoed in acknowledgments.
type SendMessageData struct {
	LocalID        string   `json:"localId"`
	ConversationID string   `json:"conversationId"`
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	FileID         string   `json:"fileId,omitempty"`
	FileIDs        []string `json:"fileIds,omitempty"`
}

// FileInfo is resolved attachment metadata.
type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// MessageReceivedData acknowledges a send to its sender. Status is
// "sent" (pre-persistence) then "processed" (server id assigned).
type MessageReceivedData struct {
	LocalID   string     `json:"localId"`
	ServerID  string     `json:"serverId,omitempty"`
	Status    string     `json:"status"`
	Timestamp int64      `json:"timestamp"`
	FilesInfo []FileInfo `json:"filesInfo,omitempty"`
}

// NewMessageData is broadcast to conversation members.
type NewMessageData struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName,omitempty"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	FilesInfo      []FileInfo `json:"filesInfo,omitempty"`
	CreatedAt      int64      `json:"createdAt"`
	Queued         bool       `json:"queued,omitempty"`
	Retry          bool       `json:"retry,omitempty"`
}

// MessageDeliveredData reports client-side delivery confirmation.
type MessageDeliveredData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// MarkAsReadData reports a batch of read messages.
type MarkAsReadData struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	Timestamp      int64    `json:"timestamp,omitempty"`
}

// RetryMessageData asks for a re-broadcast of an owned message.
type RetryMessageData struct {
	MessageID string `json:"messageId"`
}

// DeliveryUpdateData notifies that a message reached a participant.
type DeliveryUpdateData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Timestamp      int64  `json:"timestamp"`
}

// ReadUpdateData notifies that a participant read a batch of messages.
type ReadUpdateData struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId"`
	Timestamp      int64    `json:"timestamp"`
}

// TypingData flows both ways: typing_start/typing_stop from the client,
// user_typing to conversation members.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// ConversationsData lists conversations to join or leave.
type ConversationsData struct {
	ConversationIDs []string `json:"conversationIds"`
}

// ConversationUpdatedData refreshes a participant's last-message view.
type ConversationUpdatedData struct {
	ConversationID string `json:"conversationId"`
	LastMessageID  string `json:"lastMessageId"`
	SenderID       string `json:"senderId"`
	Preview        string `json:"preview"`
	Read           bool   `json:"read"`
	Timestamp      int64  `json:"timestamp"`
}

// UpdatePresenceData is a client-driven status change.
type UpdatePresenceData struct {
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// PresenceData describes one user's presence.
type PresenceData struct {
	UserID        string `json:"userId"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
	LastSeen      int64  `json:"lastSeen,omitempty"`
}

// BulkPresenceData requests or returns a presence snapshot.
type BulkPresenceData struct {
	UserIDs  []string       `json:"userIds,omitempty"`
	Presence []PresenceData `json:"presence,omitempty"`
}

// CallInitiateData opens a call with an SDP offer.
type CallInitiateData struct {
	CallID   string `json:"callId,omitempty"`
	TargetID string `json:"targetId"`
	CallType string `json:"callType"`
	SDP      string `json:"sdp"`
}

// CallAnswerData accepts or declines a call.
type CallAnswerData struct {
	CallID string `json:"callId"`
	SDP    string `json:"sdp,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CallSignalData relays an ICE candidate or renegotiation offer verbatim.
type CallSignalData struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	UserID    string          `json:"userId,omitempty"`
}

// CallMediaStateData toggles a participant's media flags.
type CallMediaStateData struct {
	CallID       string `json:"callId"`
	UserID       string `json:"userId,omitempty"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
	ScreenShare  bool   `json:"screenShare"`
}

// CallEventData is the common payload of call lifecycle events.
type CallEventData struct {
	CallID      string `json:"callId"`
	InitiatorID string `json:"initiatorId"`
	TargetID    string `json:"targetId"`
	CallType    string `json:"callType"`
	SDP         string `json:"sdp,omitempty"`
	Reason      string `json:"reason,omitempty"`
	EndedBy     string `json:"endedBy,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

// CallParticipantLeftData notifies remaining participants of a drop.
type CallParticipantLeftData struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}
