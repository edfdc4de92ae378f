package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/collab"
	"github.com/lumachat/gateway/internal/metrics"
	"github.com/lumachat/gateway/internal/proto"
	"github.com/lumachat/gateway/internal/store"
)

// Sender-visible message statuses.
const (
	sendStatusSent      = "sent"
	sendStatusProcessed = "processed"
)

// QueuedMessage holds enough data to reconstruct a delivery notification
// for a recipient who was offline at broadcast time.
type QueuedMessage struct {
	MessageID      string
	ConversationID string
	SenderID       string
	SenderName     string
	Type           string
	Content        string
	FilesInfo      []proto.FileInfo
	CreatedAt      time.Time
	QueuedAt       time.Time
}

// Delivery runs the message pipeline: validate, acknowledge, persist,
// broadcast, mark delivered or queue, and maintain read state. Failures
// after persistence are logged and never roll the message back
// (at-least-once over exactly-once).
type Delivery struct {
	mu     sync.Mutex
	queued map[string][]*QueuedMessage

	registry *Registry
	rooms    *Rooms
	typing   *Typing

	messages store.MessageStore
	convs    store.ConversationStore
	files    collab.FileResolver
	notifier collab.Notifier
	log      *zerolog.Logger
}

// NewDelivery builds the pipeline.
func NewDelivery(
	registry *Registry,
	rooms *Rooms,
	typing *Typing,
	messages store.MessageStore,
	convs store.ConversationStore,
	files collab.FileResolver,
	notifier collab.Notifier,
	logger *zerolog.Logger,
) *Delivery {
	return &Delivery{
		queued:   make(map[string][]*QueuedMessage),
		registry: registry,
		rooms:    rooms,
		typing:   typing,
		messages: messages,
		convs:    convs,
		files:    files,
		notifier: notifier,
		log:      logger,
	}
}

// Send runs the full pipeline for one inbound message.
func (d *Delivery) Send(ctx context.Context, c *Client, req *proto.SendMessageData) error {
	if req.ConversationID == "" {
		return &Error{Code: CodeInvalidPayload, Message: "conversationId is required", LocalID: req.LocalID}
	}

	ok, err := d.convs.IsParticipant(ctx, req.ConversationID, c.UserID)
	if err != nil {
		return &Error{Code: CodeInternal, Message: "membership check failed", LocalID: req.LocalID}
	}
	if !ok {
		return &Error{Code: CodeForbidden, Message: "not a conversation participant", LocalID: req.LocalID}
	}

	// Attachment metadata must fully resolve before the message is
	// considered valid; one unverifiable file aborts the whole send.
	filesInfo, err := d.resolveFiles(ctx, c.UserID, req)
	if err != nil {
		return &Error{Code: CodeInvalidPayload, Message: "attachment could not be verified", LocalID: req.LocalID}
	}

	now := time.Now()

	// Optimistic ack before persistence so the sender's UI can show the
	// message immediately.
	c.Send(&proto.Outbound{Event: proto.OutMessageReceived, Data: proto.MessageReceivedData{
		LocalID:   req.LocalID,
		Status:    sendStatusSent,
		Timestamp: now.UnixMilli(),
	}})

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       c.UserID,
		SenderName:     c.UserName,
		Type:           messageType(req),
		Content:        req.Content,
		Attachments:    attachmentIDs(filesInfo),
		CreatedAt:      now,
	}
	if err := d.messages.CreateMessage(ctx, msg); err != nil {
		d.log.Error().Err(err).Str("conversation_id", req.ConversationID).Str("user_id", c.UserID).
			Msg("message persistence failed")
		return &Error{Code: CodeInternal, Message: "message could not be saved", LocalID: req.LocalID}
	}
	metrics.MessagesSent.Inc()

	c.Send(&proto.Outbound{Event: proto.OutMessageReceived, Data: proto.MessageReceivedData{
		LocalID:   req.LocalID,
		ServerID:  msg.ID,
		Status:    sendStatusProcessed,
		Timestamp: msg.CreatedAt.UnixMilli(),
		FilesInfo: filesInfo,
	}})

	// A successful send implicitly stops the sender's typing indicator.
	d.typing.Stop(req.ConversationID, c.UserID)

	d.rooms.Broadcast(ConversationRoom(req.ConversationID), &proto.Outbound{
		Event: proto.OutNewMessage,
		Data:  newMessageData(msg, filesInfo),
	}, c.ID)

	d.fanOut(ctx, msg, filesInfo)
	d.updateLastMessage(ctx, msg)
	return nil
}

// fanOut marks the message delivered for connected participants and
// queues it for offline ones. Failures here are logged and never abort
// the already-persisted message.
func (d *Delivery) fanOut(ctx context.Context, msg *store.Message, filesInfo []proto.FileInfo) {
	participants, err := d.convs.Participants(ctx, msg.ConversationID)
	if err != nil {
		d.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("participant lookup failed")
		return
	}

	for _, userID := range participants {
		if userID == msg.SenderID {
			continue
		}
		if d.registry.IsOnline(userID) {
			d.markDelivered(ctx, msg.ID, msg.ConversationID, userID, time.Now())
			continue
		}

		qm := &QueuedMessage{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			Type:           msg.Type,
			Content:        msg.Content,
			FilesInfo:      filesInfo,
			CreatedAt:      msg.CreatedAt,
			QueuedAt:       time.Now(),
		}
		d.mu.Lock()
		d.queued[userID] = append(d.queued[userID], qm)
		d.mu.Unlock()
		metrics.MessagesQueued.Inc()

		if err := d.notifier.MessageQueued(ctx, userID, msg.ConversationID, msg.ID, msg.SenderID, preview(msg)); err != nil {
			d.log.Warn().Err(err).Str("user_id", userID).Str("message_id", msg.ID).
				Msg("queued-message notification failed")
		}
	}
}

// markDelivered advances the status and broadcasts the delivery update
// to the conversation room.
func (d *Delivery) markDelivered(ctx context.Context, messageID, conversationID, userID string, at time.Time) {
	changed, err := d.messages.MarkDelivered(ctx, messageID, userID, at)
	if err != nil {
		d.log.Warn().Err(err).Str("message_id", messageID).Str("user_id", userID).
			Msg("delivery marking failed")
		return
	}
	if !changed {
		return
	}
	metrics.MessagesDelivered.Inc()

	d.rooms.Broadcast(ConversationRoom(conversationID), &proto.Outbound{
		Event: proto.OutDeliveryUpdate,
		Data: proto.DeliveryUpdateData{
			MessageID:      messageID,
			ConversationID: conversationID,
			UserID:         userID,
			Timestamp:      at.UnixMilli(),
		},
	}, "")
}

// Confirm applies a client-reported delivery confirmation.
func (d *Delivery) Confirm(ctx context.Context, userID string, req *proto.MessageDeliveredData) error {
	if req.MessageID == "" || req.ConversationID == "" {
		return gwError(CodeInvalidPayload, "messageId and conversationId are required")
	}
	at := time.Now()
	if req.Timestamp > 0 {
		at = time.UnixMilli(req.Timestamp)
	}
	d.markDelivered(ctx, req.MessageID, req.ConversationID, userID, at)
	return nil
}

// MarkRead applies a batch of read receipts. Marking an already-read
// message again is a no-op; only actual transitions are broadcast.
func (d *Delivery) MarkRead(ctx context.Context, reader *Client, req *proto.MarkAsReadData) error {
	if req.ConversationID == "" || len(req.MessageIDs) == 0 {
		return gwError(CodeInvalidPayload, "conversationId and messageIds are required")
	}

	at := time.Now()
	if req.Timestamp > 0 {
		at = time.UnixMilli(req.Timestamp)
	}

	var readIDs []string
	for _, id := range req.MessageIDs {
		changed, err := d.messages.MarkRead(ctx, id, reader.UserID, at)
		if err != nil {
			d.log.Warn().Err(err).Str("message_id", id).Str("user_id", reader.UserID).
				Msg("read marking failed")
			continue
		}
		if changed {
			readIDs = append(readIDs, id)
		}
	}
	if len(readIDs) == 0 {
		return nil
	}

	d.rooms.BroadcastExceptUser(ConversationRoom(req.ConversationID), &proto.Outbound{
		Event: proto.OutReadUpdate,
		Data: proto.ReadUpdateData{
			ConversationID: req.ConversationID,
			MessageIDs:     readIDs,
			UserID:         reader.UserID,
			Timestamp:      at.UnixMilli(),
		},
	}, reader.UserID)

	d.reconcileLastMessage(ctx, reader, req.ConversationID, readIDs, at)
	return nil
}

// reconcileLastMessage refreshes the reader's cached last-message view
// when one of the newly read ids is the conversation's last message.
func (d *Delivery) reconcileLastMessage(ctx context.Context, reader *Client, conversationID string, readIDs []string, at time.Time) {
	lm, err := d.convs.GetLastMessage(ctx, conversationID)
	if err != nil {
		return
	}
	for _, id := range readIDs {
		if id != lm.MessageID {
			continue
		}
		d.rooms.Broadcast(UserRoom(reader.UserID), &proto.Outbound{
			Event: proto.OutConversationUpdated,
			Data: proto.ConversationUpdatedData{
				ConversationID: conversationID,
				LastMessageID:  lm.MessageID,
				SenderID:       lm.SenderID,
				Preview:        lm.Preview,
				Read:           true,
				Timestamp:      at.UnixMilli(),
			},
		}, "")
		return
	}
}

// Retry re-broadcasts a message the sender owns. Content is never
// re-persisted.
func (d *Delivery) Retry(ctx context.Context, c *Client, req *proto.RetryMessageData) error {
	if req.MessageID == "" {
		return gwError(CodeInvalidPayload, "messageId is required")
	}

	msg, err := d.messages.GetMessage(ctx, req.MessageID)
	if err != nil {
		return gwError(CodeInvalidPayload, "unknown message")
	}
	if msg.SenderID != c.UserID {
		return gwError(CodeForbidden, "message not owned by sender")
	}

	data := newMessageData(msg, nil)
	data.Retry = true
	d.rooms.Broadcast(ConversationRoom(msg.ConversationID), &proto.Outbound{
		Event: proto.OutNewMessage,
		Data:  data,
	}, c.ID)

	// The sender's explicit retry supersedes any pending queued copy.
	d.mu.Lock()
	for userID, queue := range d.queued {
		filtered := queue[:0]
		for _, qm := range queue {
			if qm.MessageID != req.MessageID {
				filtered = append(filtered, qm)
			}
		}
		if len(filtered) == 0 {
			delete(d.queued, userID)
		} else {
			d.queued[userID] = filtered
		}
	}
	d.mu.Unlock()
	return nil
}

// FlushQueue replays queued messages to a freshly connected client, then
// broadcasts delivery confirmations to each conversation.
func (d *Delivery) FlushQueue(ctx context.Context, c *Client) {
	d.mu.Lock()
	queue := d.queued[c.UserID]
	delete(d.queued, c.UserID)
	d.mu.Unlock()

	for _, qm := range queue {
		data := proto.NewMessageData{
			ID:             qm.MessageID,
			ConversationID: qm.ConversationID,
			SenderID:       qm.SenderID,
			SenderName:     qm.SenderName,
			Type:           qm.Type,
			Content:        qm.Content,
			FilesInfo:      qm.FilesInfo,
			CreatedAt:      qm.CreatedAt.UnixMilli(),
			Queued:         true,
		}
		c.Send(&proto.Outbound{Event: proto.OutNewMessage, Data: data})
		d.markDelivered(ctx, qm.MessageID, qm.ConversationID, c.UserID, time.Now())
	}
}

// QueuedFor reports how many messages are queued for a user.
func (d *Delivery) QueuedFor(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued[userID])
}

// updateLastMessage refreshes the conversation's cached last-message
// view and pushes it to every participant's personal room. Read state is
// participant-specific, so the push goes per user, not to the
// conversation room.
func (d *Delivery) updateLastMessage(ctx context.Context, msg *store.Message) {
	lm := &store.LastMessage{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Preview:        preview(msg),
		CreatedAt:      msg.CreatedAt,
	}
	if err := d.convs.SetLastMessage(ctx, lm); err != nil {
		d.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("last-message cache update failed")
		return
	}

	participants, err := d.convs.Participants(ctx, msg.ConversationID)
	if err != nil {
		d.log.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("participant lookup failed")
		return
	}
	for _, userID := range participants {
		d.rooms.Broadcast(UserRoom(userID), &proto.Outbound{
			Event: proto.OutConversationUpdated,
			Data: proto.ConversationUpdatedData{
				ConversationID: msg.ConversationID,
				LastMessageID:  msg.ID,
				SenderID:       msg.SenderID,
				Preview:        lm.Preview,
				Read:           userID == msg.SenderID,
				Timestamp:      msg.CreatedAt.UnixMilli(),
			},
		}, "")
	}
}

// resolveFiles resolves the request's attachment references: a single
// owned file, a batch, or none.
func (d *Delivery) resolveFiles(ctx context.Context, senderID string, req *proto.SendMessageData) ([]proto.FileInfo, error) {
	switch {
	case req.FileID != "":
		info, err := d.files.ResolveOwned(ctx, req.FileID, senderID)
		if err != nil {
			return nil, err
		}
		return []proto.FileInfo{toFileInfo(info)}, nil
	case len(req.FileIDs) > 0:
		infos, err := d.files.ResolveBatch(ctx, req.FileIDs)
		if err != nil {
			return nil, err
		}
		out := make([]proto.FileInfo, 0, len(infos))
		for _, info := range infos {
			out = append(out, toFileInfo(info))
		}
		return out, nil
	default:
		return nil, nil
	}
}

func toFileInfo(info *collab.FileInfo) proto.FileInfo {
	return proto.FileInfo{
		ID:       info.ID,
		Name:     info.Name,
		MimeType: info.MimeType,
		Size:     info.Size,
		URL:      info.URL,
	}
}

func attachmentIDs(infos []proto.FileInfo) []string {
	if len(infos) == 0 {
		return nil
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.ID)
	}
	return out
}

func messageType(req *proto.SendMessageData) string {
	if req.Type != "" {
		return req.Type
	}
	if req.FileID != "" || len(req.FileIDs) > 0 {
		return "file"
	}
	return "text"
}

func newMessageData(msg *store.Message, filesInfo []proto.FileInfo) proto.NewMessageData {
	return proto.NewMessageData{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Type:           msg.Type,
		Content:        msg.Content,
		FilesInfo:      filesInfo,
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	}
}

const previewLimit = 120

func preview(msg *store.Message) string {
	if msg.Content == "" && len(msg.Attachments) > 0 {
		return "[attachment]"
	}
	if len(msg.Content) > previewLimit {
		return msg.Content[:previewLimit]
	}
	return msg.Content
}
