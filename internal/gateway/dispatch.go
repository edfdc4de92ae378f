package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumachat/gateway/internal/proto"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// buildHandlers wires the event dispatch table once at startup. Adding
// an event is one entry here plus the handler.
func (g *Gateway) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		proto.InSendMessage:        g.onSendMessage,
		proto.InMessageDelivered:   g.onMessageDelivered,
		proto.InMarkAsRead:         g.onMarkAsRead,
		proto.InRetryMessage:       g.onRetryMessage,
		proto.InTypingStart:        g.onTypingStart,
		proto.InTypingStop:         g.onTypingStop,
		proto.InJoinConversations:  g.onJoinConversations,
		proto.InLeaveConversations: g.onLeaveConversations,
		proto.InUpdatePresence:     g.onUpdatePresence,
		proto.InHeartbeat:          g.onHeartbeat,
		proto.InGetBulkPresence:    g.onGetBulkPresence,
		proto.InCallInitiate:       g.onCallInitiate,
		proto.InCallAccept:         g.onCallAccept,
		proto.InCallDecline:        g.onCallDecline,
		proto.InCallHangup:         g.onCallHangup,
		proto.InCallICECandidate:   g.onCallICECandidate,
		proto.InCallRenegotiate:    g.onCallRenegotiate,
		proto.InCallMediaState:     g.onCallMediaState,
	}
}

// Dispatch routes one inbound frame to its handler. A handler failure
// becomes an "<event>_error" reply on the same connection; a handler
// panic is contained to the frame that caused it.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, in *proto.Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error().Str("event", in.Event).Str("conn_id", c.ID).
				Interface("panic", rec).Msg("handler panicked")
			g.replyError(c, in.Event, gwError(CodeInternal, "internal error"))
		}
	}()

	h, ok := g.handlers[in.Event]
	if !ok {
		g.log.Debug().Str("event", in.Event).Str("conn_id", c.ID).Msg("unknown event")
		g.replyError(c, in.Event, gwError(CodeUnknownEvent, fmt.Sprintf("unknown event %q", in.Event)))
		return
	}

	if err := h(ctx, c, in.Data); err != nil {
		var gwErr *Error
		if !errors.As(err, &gwErr) {
			g.log.Error().Err(err).Str("event", in.Event).Str("conn_id", c.ID).Msg("handler failed")
			gwErr = gwError(CodeInternal, "internal error")
		}
		g.replyError(c, in.Event, gwErr)
	}
}

func (g *Gateway) replyError(c *Client, event string, gwErr *Error) {
	c.Send(&proto.Outbound{
		Event: proto.ErrorEvent(event),
		Error: &proto.Error{Code: gwErr.Code, Msg: gwErr.Message, LocalID: gwErr.LocalID},
	})
}

func decode[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, gwError(CodeInvalidPayload, "malformed payload")
	}
	return &v, nil
}

func (g *Gateway) onSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.SendMessageData](data)
	if err != nil {
		return err
	}
	return g.Delivery.Send(ctx, c, req)
}

func (g *Gateway) onMessageDelivered(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.MessageDeliveredData](data)
	if err != nil {
		return err
	}
	return g.Delivery.Confirm(ctx, c.UserID, req)
}

func (g *Gateway) onMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.MarkAsReadData](data)
	if err != nil {
		return err
	}
	return g.Delivery.MarkRead(ctx, c, req)
}

func (g *Gateway) onRetryMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.RetryMessageData](data)
	if err != nil {
		return err
	}
	return g.Delivery.Retry(ctx, c, req)
}

// Typing events are only honored for conversations the connection has
// joined; membership was proven at join time.
func (g *Gateway) onTypingStart(_ context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.TypingData](data)
	if err != nil {
		return err
	}
	if !g.Rooms.IsMember(c.ID, ConversationRoom(req.ConversationID)) {
		return gwError(CodeForbidden, "not a member of conversation")
	}
	g.Typing.Start(req.ConversationID, c.UserID, c.UserName)
	return nil
}

func (g *Gateway) onTypingStop(_ context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.TypingData](data)
	if err != nil {
		return err
	}
	if !g.Rooms.IsMember(c.ID, ConversationRoom(req.ConversationID)) {
		return gwError(CodeForbidden, "not a member of conversation")
	}
	g.Typing.Stop(req.ConversationID, c.UserID)
	return nil
}

// onJoinConversations checks membership per conversation and joins the
// rooms that pass. A bad id fails that id only, not the whole batch.
func (g *Gateway) onJoinConversations(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.ConversationsData](data)
	if err != nil {
		return err
	}
	for _, id := range req.ConversationIDs {
		ok, err := g.convs.IsParticipant(ctx, id, c.UserID)
		if err != nil {
			g.log.Error().Err(err).Str("conversation_id", id).Msg("membership check failed")
			continue
		}
		if !ok {
			g.log.Warn().Str("conversation_id", id).Str("user_id", c.UserID).
				Msg("join refused, not a participant")
			continue
		}
		g.Rooms.Join(c, ConversationRoom(id))
	}
	return nil
}

func (g *Gateway) onLeaveConversations(_ context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.ConversationsData](data)
	if err != nil {
		return err
	}
	for _, id := range req.ConversationIDs {
		g.Rooms.Leave(c, ConversationRoom(id))
	}
	return nil
}

func (g *Gateway) onUpdatePresence(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.UpdatePresenceData](data)
	if err != nil {
		return err
	}
	return g.Presence.UpdateStatus(ctx, c.UserID, Status(req.Status), req.StatusMessage)
}

func (g *Gateway) onHeartbeat(ctx context.Context, c *Client, _ json.RawMessage) error {
	g.Presence.Heartbeat(ctx, c.UserID)
	return nil
}

func (g *Gateway) onGetBulkPresence(_ context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.BulkPresenceData](data)
	if err != nil {
		return err
	}
	c.Send(&proto.Outbound{
		Event: proto.OutBulkPresence,
		Data:  proto.BulkPresenceData{Presence: g.Presence.Snapshot(req.UserIDs)},
	})
	return nil
}

func (g *Gateway) onCallInitiate(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallInitiateData](data)
	if err != nil {
		return err
	}
	return g.Calls.Initiate(ctx, c, req)
}

func (g *Gateway) onCallAccept(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallAnswerData](data)
	if err != nil {
		return err
	}
	return g.Calls.Accept(ctx, c, req)
}

func (g *Gateway) onCallDecline(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallAnswerData](data)
	if err != nil {
		return err
	}
	return g.Calls.Decline(ctx, c, req)
}

func (g *Gateway) onCallHangup(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallAnswerData](data)
	if err != nil {
		return err
	}
	return g.Calls.Hangup(ctx, c, req)
}

func (g *Gateway) onCallICECandidate(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallSignalData](data)
	if err != nil {
		return err
	}
	return g.Calls.Candidate(ctx, c, req)
}

func (g *Gateway) onCallRenegotiate(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallSignalData](data)
	if err != nil {
		return err
	}
	return g.Calls.Renegotiate(ctx, c, req)
}

func (g *Gateway) onCallMediaState(ctx context.Context, c *Client, data json.RawMessage) error {
	req, err := decode[proto.CallMediaStateData](data)
	if err != nil {
		return err
	}
	return g.Calls.MediaState(ctx, c, req)
}
