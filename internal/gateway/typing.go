package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/metrics"
	"github.com/lumachat/gateway/internal/proto"
)

type typingState struct {
	userName  string
	startedAt time.Time
}

// Typing coordinates ephemeral per-conversation, per-user typing state
// with auto-expiry. At most one live expiry timer exists per
// (conversation, user) pair: starting always cancels any prior timer.
type Typing struct {
	mu     sync.Mutex
	byConv map[string]map[string]*typingState
	byUser map[string]map[string]struct{}

	timers *TimerSet
	rooms  *Rooms
	expiry time.Duration
	log    *zerolog.Logger
}

// NewTyping builds the coordinator. expiry is how long a typing signal
// stays live without a refresh.
func NewTyping(rooms *Rooms, expiry time.Duration, logger *zerolog.Logger) *Typing {
	return &Typing{
		byConv: make(map[string]map[string]*typingState),
		byUser: make(map[string]map[string]struct{}),
		timers: NewTimerSet(),
		rooms:  rooms,
		expiry: expiry,
		log:    logger,
	}
}

func typingTimerKey(conversationID, userID string) string {
	return "typing:" + conversationID + ":" + userID
}

// Start records that a user is typing and (re)arms the expiry timer.
// Repeated signals refresh the timer without duplicating broadcasts.
func (t *Typing) Start(conversationID, userID, userName string) {
	now := time.Now()

	t.mu.Lock()
	users := t.byConv[conversationID]
	if users == nil {
		users = make(map[string]*typingState)
		t.byConv[conversationID] = users
	}
	fresh := users[userID] == nil
	users[userID] = &typingState{userName: userName, startedAt: now}

	convs := t.byUser[userID]
	if convs == nil {
		convs = make(map[string]struct{})
		t.byUser[userID] = convs
	}
	convs[conversationID] = struct{}{}
	t.mu.Unlock()

	t.timers.Arm(typingTimerKey(conversationID, userID), t.expiry, func() {
		t.expire(conversationID, userID)
	})
	metrics.TypingTimers.Set(float64(t.timers.Len()))

	if fresh {
		t.rooms.BroadcastExceptUser(ConversationRoom(conversationID), &proto.Outbound{
			Event: proto.OutUserTyping,
			Data: proto.TypingData{
				ConversationID: conversationID,
				UserID:         userID,
				UserName:       userName,
				IsTyping:       true,
				Timestamp:      now.UnixMilli(),
			},
		}, userID)
	}
}

// Stop cancels the timer, clears the state, and broadcasts isTyping
// false. Safe to call for a user who is not typing.
func (t *Typing) Stop(conversationID, userID string) {
	t.timers.Cancel(typingTimerKey(conversationID, userID))
	t.clear(conversationID, userID)
	metrics.TypingTimers.Set(float64(t.timers.Len()))
}

// expire is the timer callback; it performs the same action as an
// explicit stop. The state check makes a stale fire harmless.
func (t *Typing) expire(conversationID, userID string) {
	t.clear(conversationID, userID)
	metrics.TypingTimers.Set(float64(t.timers.Len()))
}

// clear removes state and, when state existed, broadcasts the stop.
func (t *Typing) clear(conversationID, userID string) {
	t.mu.Lock()
	users := t.byConv[conversationID]
	state := users[userID]
	if state != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.byConv, conversationID)
		}
		if convs := t.byUser[userID]; convs != nil {
			delete(convs, conversationID)
			if len(convs) == 0 {
				delete(t.byUser, userID)
			}
		}
	}
	var userName string
	if state != nil {
		userName = state.userName
	}
	t.mu.Unlock()

	if state == nil {
		return
	}

	t.rooms.BroadcastExceptUser(ConversationRoom(conversationID), &proto.Outbound{
		Event: proto.OutUserTyping,
		Data: proto.TypingData{
			ConversationID: conversationID,
			UserID:         userID,
			UserName:       userName,
			IsTyping:       false,
			Timestamp:      time.Now().UnixMilli(),
		},
	}, userID)
}

// ClearUser stops typing for a user in every conversation. Called when
// the user's last connection drops.
func (t *Typing) ClearUser(userID string) {
	t.mu.Lock()
	convs := make([]string, 0, len(t.byUser[userID]))
	for conversationID := range t.byUser[userID] {
		convs = append(convs, conversationID)
	}
	t.mu.Unlock()

	for _, conversationID := range convs {
		t.Stop(conversationID, userID)
	}
}

// IsTyping reports whether the user is currently marked typing in the
// conversation.
func (t *Typing) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byConv[conversationID][userID] != nil
}

// Shutdown cancels every armed timer.
func (t *Typing) Shutdown() {
	t.timers.StopAll()
}
