package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/lumachat/gateway/internal/files"
	"github.com/lumachat/gateway/internal/proto"
	"github.com/lumachat/gateway/internal/store"
)

type deliveryFixture struct {
	registry *Registry
	rooms    *Rooms
	typing   *Typing
	messages *memMessages
	convs    *memConversations
	files    *files.Memory
	notifier *recordingNotifier
	delivery *Delivery
}

func newDeliveryFixture(t *testing.T, participants map[string][]string) *deliveryFixture {
	t.Helper()

	f := &deliveryFixture{
		registry: NewRegistry(),
		rooms:    NewRooms(),
		messages: newMemMessages(),
		convs:    newMemConversations(participants),
		files:    files.NewMemory(),
		notifier: &recordingNotifier{},
	}
	f.typing = NewTyping(f.rooms, time.Second, testLogger())
	t.Cleanup(f.typing.Shutdown)
	f.delivery = NewDelivery(f.registry, f.rooms, f.typing, f.messages, f.convs, f.files, f.notifier, testLogger())
	return f
}

// connect registers a client and joins its personal and conversation rooms.
func (f *deliveryFixture) connect(c *Client, conversations ...string) {
	f.registry.Register(c, c.UserID, DeviceInfo{DeviceID: c.ID})
	f.rooms.Join(c, UserRoom(c.UserID))
	for _, id := range conversations {
		f.rooms.Join(c, ConversationRoom(id))
	}
}

func TestDeliverySendFullPipeline(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice, "c1")
	f.connect(bob, "c1")

	err := f.delivery.Send(ctx, alice, &proto.SendMessageData{
		LocalID:        "tmp-1",
		ConversationID: "c1",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Sender gets the optimistic ack, then the processed ack with the
	// server id.
	sent := mustEvent(t, alice.Events, proto.OutMessageReceived)
	if data := sent.Data.(proto.MessageReceivedData); data.Status != "sent" || data.LocalID != "tmp-1" {
		t.Fatalf("unexpected first ack: %+v", data)
	}
	processed := mustEvent(t, alice.Events, proto.OutMessageReceived)
	procData := processed.Data.(proto.MessageReceivedData)
	if procData.Status != "processed" || procData.ServerID == "" {
		t.Fatalf("unexpected second ack: %+v", procData)
	}

	// Recipient gets the broadcast; the sender connection is excluded.
	msg := mustEvent(t, bob.Events, proto.OutNewMessage)
	msgData := msg.Data.(proto.NewMessageData)
	if msgData.ID != procData.ServerID || msgData.Content != "hello" || msgData.SenderID != "alice" {
		t.Fatalf("unexpected broadcast: %+v", msgData)
	}
	mustNoEvent(t, alice.Events, proto.OutNewMessage)

	// Bob was online, so the message is delivered immediately.
	upd := mustEvent(t, bob.Events, proto.OutDeliveryUpdate)
	if updData := upd.Data.(proto.DeliveryUpdateData); updData.UserID != "bob" || updData.MessageID != procData.ServerID {
		t.Fatalf("unexpected delivery update: %+v", updData)
	}
	status, err := f.messages.DeliveryState(ctx, procData.ServerID, "bob")
	if err != nil || status != store.DeliveryDelivered {
		t.Fatalf("expected delivered, got %v (%v)", status, err)
	}

	// Both participants get the last-message refresh; only the sender's
	// copy is pre-read.
	convA := mustEvent(t, alice.Events, proto.OutConversationUpdated)
	if !convA.Data.(proto.ConversationUpdatedData).Read {
		t.Fatal("sender's conversation view should be read")
	}
	convB := mustEvent(t, bob.Events, proto.OutConversationUpdated)
	if convB.Data.(proto.ConversationUpdatedData).Read {
		t.Fatal("recipient's conversation view should be unread")
	}
}

func TestDeliverySendRejectsNonParticipant(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"bob", "carol"}})

	mallory := testClient(t, "conn-m", "mallory", "Mallory")
	f.connect(mallory)

	err := f.delivery.Send(ctx, mallory, &proto.SendMessageData{
		LocalID:        "tmp-9",
		ConversationID: "c1",
		Content:        "hi",
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeForbidden || gwErr.LocalID != "tmp-9" {
		t.Fatalf("expected forbidden error echoing local id, got %v", err)
	}
	mustNoEvent(t, mallory.Events, proto.OutMessageReceived)
}

func TestDeliverySendStopsSenderTyping(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice, "c1")
	f.connect(bob, "c1")

	f.typing.Start("c1", "alice", "Alice")
	mustEvent(t, bob.Events, proto.OutUserTyping)

	if err := f.delivery.Send(ctx, alice, &proto.SendMessageData{ConversationID: "c1", Content: "done typing"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	stop := mustEvent(t, bob.Events, proto.OutUserTyping)
	if stop.Data.(proto.TypingData).IsTyping {
		t.Fatal("expected send to clear the sender's typing indicator")
	}
}

func TestDeliveryOfflineRecipientQueuedAndFlushed(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	f.connect(alice, "c1")

	if err := f.delivery.Send(ctx, alice, &proto.SendMessageData{ConversationID: "c1", Content: "you there?"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n := f.delivery.QueuedFor("bob"); n != 1 {
		t.Fatalf("expected 1 queued message for bob, got %d", n)
	}
	if f.notifier.queuedCount() != 1 {
		t.Fatalf("expected 1 push notification, got %d", f.notifier.queuedCount())
	}

	// Bob connects later; the queue is replayed and drained.
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(bob, "c1")
	f.delivery.FlushQueue(ctx, bob)

	replay := mustEvent(t, bob.Events, proto.OutNewMessage)
	data := replay.Data.(proto.NewMessageData)
	if !data.Queued || data.Content != "you there?" {
		t.Fatalf("unexpected replayed message: %+v", data)
	}
	if n := f.delivery.QueuedFor("bob"); n != 0 {
		t.Fatalf("expected empty queue after flush, got %d", n)
	}

	status, err := f.messages.DeliveryState(ctx, data.ID, "bob")
	if err != nil || status != store.DeliveryDelivered {
		t.Fatalf("expected delivered after replay, got %v (%v)", status, err)
	}
}

func TestDeliveryMarkReadBroadcastsOnlyTransitions(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice, "c1")
	f.connect(bob, "c1")

	if err := f.delivery.Send(ctx, alice, &proto.SendMessageData{ConversationID: "c1", Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mustEvent(t, alice.Events, proto.OutMessageReceived)
	processed := mustEvent(t, alice.Events, proto.OutMessageReceived)
	serverID := processed.Data.(proto.MessageReceivedData).ServerID
	drain(alice.Events)
	drain(bob.Events)

	err := f.delivery.MarkRead(ctx, bob, &proto.MarkAsReadData{
		ConversationID: "c1",
		MessageIDs:     []string{serverID, "ghost-id"},
	})
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	// Only the stored message transitions; the fabricated id is dropped.
	upd := mustEvent(t, alice.Events, proto.OutReadUpdate)
	updData := upd.Data.(proto.ReadUpdateData)
	if len(updData.MessageIDs) != 1 || updData.MessageIDs[0] != serverID || updData.UserID != "bob" {
		t.Fatalf("unexpected read update: %+v", updData)
	}
	// The reader's own connections never get the receipt.
	mustNoEvent(t, bob.Events, proto.OutReadUpdate)

	status, err := f.messages.DeliveryState(ctx, serverID, "bob")
	if err != nil || status != store.DeliveryRead {
		t.Fatalf("expected read, got %v (%v)", status, err)
	}

	// Reading the same messages again is a no-op with no broadcast.
	drain(alice.Events)
	if err := f.delivery.MarkRead(ctx, bob, &proto.MarkAsReadData{
		ConversationID: "c1",
		MessageIDs:     []string{serverID},
	}); err != nil {
		t.Fatalf("MarkRead repeat: %v", err)
	}
	mustNoEvent(t, alice.Events, proto.OutReadUpdate)
}

func TestDeliveryReadNeverRegressesToDelivered(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice, "c1")
	f.connect(bob, "c1")

	if err := f.delivery.Send(ctx, alice, &proto.SendMessageData{ConversationID: "c1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mustEvent(t, alice.Events, proto.OutMessageReceived)
	serverID := mustEvent(t, alice.Events, proto.OutMessageReceived).Data.(proto.MessageReceivedData).ServerID

	if err := f.delivery.MarkRead(ctx, bob, &proto.MarkAsReadData{ConversationID: "c1", MessageIDs: []string{serverID}}); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	drain(alice.Events)

	// A late client-side delivery confirmation must not demote read state.
	if err := f.delivery.Confirm(ctx, "bob", &proto.MessageDeliveredData{MessageID: serverID, ConversationID: "c1"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	mustNoEvent(t, alice.Events, proto.OutDeliveryUpdate)

	status, err := f.messages.DeliveryState(ctx, serverID, "bob")
	if err != nil || status != store.DeliveryRead {
		t.Fatalf("expected read to stick, got %v (%v)", status, err)
	}
}

func TestDeliveryRetryRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice, "c1")
	f.connect(bob, "c1")

	if err := f.delivery.Send(ctx, alice, &proto.SendMessageData{ConversationID: "c1", Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mustEvent(t, alice.Events, proto.OutMessageReceived)
	serverID := mustEvent(t, alice.Events, proto.OutMessageReceived).Data.(proto.MessageReceivedData).ServerID
	drain(bob.Events)

	err := f.delivery.Retry(ctx, bob, &proto.RetryMessageData{MessageID: serverID})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeForbidden {
		t.Fatalf("expected forbidden for non-owner retry, got %v", err)
	}

	if err := f.delivery.Retry(ctx, alice, &proto.RetryMessageData{MessageID: serverID}); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	retried := mustEvent(t, bob.Events, proto.OutNewMessage)
	if data := retried.Data.(proto.NewMessageData); !data.Retry || data.ID != serverID {
		t.Fatalf("unexpected retry broadcast: %+v", data)
	}
}

func TestDeliveryAttachmentMustResolve(t *testing.T) {
	ctx := context.Background()
	f := newDeliveryFixture(t, map[string][]string{"c1": {"alice", "bob"}})

	alice := testClient(t, "conn-a", "alice", "Alice")
	f.connect(alice, "c1")

	err := f.delivery.Send(ctx, alice, &proto.SendMessageData{
		LocalID:        "tmp-2",
		ConversationID: "c1",
		FileID:         "missing-file",
	})
	gwErr, ok := err.(*Error)
	if !ok || gwErr.Code != CodeInvalidPayload || gwErr.LocalID != "tmp-2" {
		t.Fatalf("expected invalid_payload for unknown attachment, got %v", err)
	}
	mustNoEvent(t, alice.Events, proto.OutMessageReceived)
}
