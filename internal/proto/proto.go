package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames pushed to the client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response. LocalID echoes the
// client's correlation id when the failed request carried one, so the
// client can reconcile optimistic UI state.
type Error struct {
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	LocalID string `json:"localId,omitempty"`
}

// Inbound event names.
const (
	InAuthenticate       = "authenticate"
	InSendMessage        = "send_message"
	InMessageDelivered   = "message_delivered"
	InMarkAsRead         = "mark_as_read"
	InRetryMessage       = "retry_message"
	InTypingStart        = "typing_start"
	InTypingStop         = "typing_stop"
	InJoinConversations  = "join_conversations"
	InLeaveConversations = "leave_conversations"
	InUpdatePresence     = "update_presence"
	InHeartbeat          = "heartbeat"
	InGetBulkPresence    = "get_bulk_presence"
	InCallInitiate       = "call:initiate"
	InCallAccept         = "call:accept"
	InCallDecline        = "call:decline"
	InCallHangup         = "call:hangup"
	InCallICECandidate   = "call:ice_candidate"
	InCallRenegotiate    = "call:renegotiate"
	InCallMediaState     = "call:media_state"
)

// Outbound event names.
const (
	OutAuthenticated       = "authenticated"
	OutMessageReceived     = "message_received"
	OutNewMessage          = "new_message"
	OutDeliveryUpdate      = "message_delivery_update"
	OutReadUpdate          = "messages_read_update"
	OutUserTyping          = "user_typing"
	OutConversationUpdated = "conversation_updated"
	OutContactPresence     = "contact_presence_update"
	OutBulkPresence        = "bulk_presence"
	OutCallIncoming        = "call:incoming"
	OutCallAccepted        = "call:accepted"
	OutCallDeclined        = "call:declined"
	OutCallEnded           = "call:ended"
	OutCallTimeout         = "call:timeout"
	OutCallICECandidate    = "call:ice_candidate"
	OutCallRenegotiate     = "call:renegotiate"
	OutCallMediaChanged    = "call:media_state_changed"
	OutCallParticipantLeft = "call:participant_left"
)

// ErrorEvent derives the reply event name for a failed inbound event.
func ErrorEvent(inboundEvent string) string {
	return inboundEvent + "_error"
}
