package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/proto"
	"github.com/lumachat/gateway/internal/store"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testClient(t *testing.T, connID, userID, userName string) *Client {
	t.Helper()

	c := NewClient(connID)
	c.UserID = userID
	c.UserName = userName
	return c
}

func mustEvent(t *testing.T, ch <-chan *proto.Outbound, event string) *proto.Outbound {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Event == event {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", event)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *proto.Outbound, event string) {
	t.Helper()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Event == event {
				t.Fatalf("unexpected event %q received: %+v", event, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func drain(ch <-chan *proto.Outbound) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// ==== in-memory store fakes ====

type memMessages struct {
	mu       sync.Mutex
	messages map[string]*store.Message
	statuses map[string]store.DeliveryStatus // messageID|userID
}

func newMemMessages() *memMessages {
	return &memMessages{
		messages: make(map[string]*store.Message),
		statuses: make(map[string]store.DeliveryStatus),
	}
}

func (m *memMessages) CreateMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *memMessages) GetMessage(_ context.Context, id string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) MarkDelivered(_ context.Context, messageID, userID string, _ time.Time) (bool, error) {
	return m.advance(messageID, userID, store.DeliveryDelivered), nil
}

func (m *memMessages) MarkRead(_ context.Context, messageID, userID string, _ time.Time) (bool, error) {
	return m.advance(messageID, userID, store.DeliveryRead), nil
}

func (m *memMessages) advance(messageID, userID string, target store.DeliveryStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return false
	}
	key := messageID + "|" + userID
	if m.statuses[key].AtLeast(target) {
		return false
	}
	m.statuses[key] = target
	return true
}

func (m *memMessages) DeliveryState(_ context.Context, messageID, userID string) (store.DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[messageID+"|"+userID]
	if !ok {
		return store.DeliveryQueued, store.ErrNotFound
	}
	return status, nil
}

type memConversations struct {
	mu           sync.Mutex
	participants map[string][]string
	lastMessages map[string]*store.LastMessage
}

func newMemConversations(participants map[string][]string) *memConversations {
	return &memConversations{
		participants: participants,
		lastMessages: make(map[string]*store.LastMessage),
	}
}

func (m *memConversations) Participants(_ context.Context, conversationID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.participants[conversationID], nil
}

func (m *memConversations) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memConversations) SetLastMessage(_ context.Context, lm *store.LastMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lm
	m.lastMessages[lm.ConversationID] = &cp
	return nil
}

func (m *memConversations) GetLastMessage(_ context.Context, conversationID string) (*store.LastMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.lastMessages[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *lm
	return &cp, nil
}

type memContacts struct {
	contacts map[string][]string
}

func (m *memContacts) ContactsOf(_ context.Context, userID string) ([]string, error) {
	return m.contacts[userID], nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	queuedUsers   []string
	incomingCalls []string // "userID:callID"
}

func (n *recordingNotifier) MessageQueued(_ context.Context, userID, _, _, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queuedUsers = append(n.queuedUsers, userID)
	return nil
}

func (n *recordingNotifier) IncomingCall(_ context.Context, userID, callID, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incomingCalls = append(n.incomingCalls, userID+":"+callID)
	return nil
}

func (n *recordingNotifier) queuedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queuedUsers)
}

func (n *recordingNotifier) incomingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incomingCalls)
}
