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
)

// CallStatus is the top-level state of a call session. Transitions never
// move backward; declined and timeout are terminal alternates reachable
// only before connected.
type CallStatus string

const (
	CallInitiating CallStatus = "initiating"
	CallRinging    CallStatus = "ringing"
	CallConnected  CallStatus = "connected"
	CallEnded      CallStatus = "ended"
	CallDeclined   CallStatus = "declined"
	CallTimedOut   CallStatus = "timeout"
)

func (s CallStatus) terminal() bool {
	switch s {
	case CallEnded, CallDeclined, CallTimedOut:
		return true
	default:
		return false
	}
}

// MediaState is one participant's media flags.
type MediaState struct {
	AudioEnabled bool
	VideoEnabled bool
	ScreenShare  bool
}

// CallSession is the stateful record of one call negotiation. Exactly
// one session exists per call id at any time.
type CallSession struct {
	ID          string
	InitiatorID string
	TargetID    string
	CallType    string // "voice" or "video"
	Status      CallStatus
	CreatedAt   time.Time
	ConnectedAt time.Time
	Media       map[string]*MediaState
}

func (s *CallSession) participant(userID string) bool {
	return userID == s.InitiatorID || userID == s.TargetID
}

func (s *CallSession) other(userID string) string {
	if userID == s.InitiatorID {
		return s.TargetID
	}
	return s.InitiatorID
}

// Calls orchestrates call signaling: offer/answer, ICE relay,
// renegotiation, media state, timeouts, and disconnect cleanup.
type Calls struct {
	mu           sync.Mutex
	sessions     map[string]*CallSession
	byUser       map[string]map[string]struct{}
	lastInitiate map[string]time.Time

	timers   *TimerSet
	rooms    *Rooms
	registry *Registry
	notifier collab.Notifier
	log      *zerolog.Logger

	timeout  time.Duration
	debounce time.Duration
}

// NewCalls builds the state machine. timeout bounds how long a call may
// ring; debounce suppresses duplicate initiations (0 disables).
func NewCalls(rooms *Rooms, registry *Registry, notifier collab.Notifier, timeout, debounce time.Duration, logger *zerolog.Logger) *Calls {
	return &Calls{
		sessions:     make(map[string]*CallSession),
		byUser:       make(map[string]map[string]struct{}),
		lastInitiate: make(map[string]time.Time),
		timers:       NewTimerSet(),
		rooms:        rooms,
		registry:     registry,
		notifier:     notifier,
		log:          logger,
		timeout:      timeout,
		debounce:     debounce,
	}
}

func callTimerKey(callID string) string { return "call:" + callID }

// Initiate creates a session from an offer and notifies the callee on
// their personal room; the callee has not joined the call room yet.
func (c *Calls) Initiate(ctx context.Context, caller *Client, req *proto.CallInitiateData) error {
	if req.TargetID == "" || req.SDP == "" {
		return gwError(CodeInvalidPayload, "targetId and sdp are required")
	}
	if req.TargetID == caller.UserID {
		return gwError(CodeInvalidPayload, "cannot call yourself")
	}

	callID := req.CallID
	if callID == "" {
		callID = uuid.New().String()
	}
	callType := req.CallType
	if callType == "" {
		callType = "voice"
	}

	now := time.Now()
	debounceKey := caller.UserID + "|" + req.TargetID

	c.mu.Lock()
	if _, exists := c.sessions[callID]; exists {
		c.mu.Unlock()
		return gwError(CodeCallExists, "call already exists")
	}
	if c.debounce > 0 {
		if last, ok := c.lastInitiate[debounceKey]; ok && now.Sub(last) < c.debounce {
			c.mu.Unlock()
			return gwError(CodeCallDebounced, "call recently initiated to this user")
		}
	}
	c.lastInitiate[debounceKey] = now

	sess := &CallSession{
		ID:          callID,
		InitiatorID: caller.UserID,
		TargetID:    req.TargetID,
		CallType:    callType,
		Status:      CallInitiating,
		CreatedAt:   now,
		Media: map[string]*MediaState{
			caller.UserID: {AudioEnabled: true, VideoEnabled: callType == "video"},
			req.TargetID:  {AudioEnabled: true, VideoEnabled: callType == "video"},
		},
	}
	c.sessions[callID] = sess
	c.indexLocked(sess)
	targetOnline := c.registry.IsOnline(req.TargetID)
	if targetOnline {
		sess.Status = CallRinging
	}
	c.mu.Unlock()

	metrics.CallsActive.Inc()
	c.rooms.Join(caller, CallRoom(callID))

	c.timers.Arm(callTimerKey(callID), c.timeout, func() {
		c.Timeout(callID)
	})

	incoming := &proto.Outbound{Event: proto.OutCallIncoming, Data: proto.CallEventData{
		CallID:      callID,
		InitiatorID: caller.UserID,
		TargetID:    req.TargetID,
		CallType:    callType,
		SDP:         req.SDP,
		CreatedAt:   now.UnixMilli(),
	}}
	c.rooms.Broadcast(UserRoom(req.TargetID), incoming, "")

	if !targetOnline {
		if err := c.notifier.IncomingCall(ctx, req.TargetID, callID, caller.UserID, callType); err != nil {
			c.log.Warn().Err(err).Str("call_id", callID).Str("user_id", req.TargetID).
				Msg("incoming-call notification failed")
		}
	}

	c.log.Info().Str("call_id", callID).Str("initiator", caller.UserID).Str("target", req.TargetID).
		Str("call_type", callType).Msg("call initiated")
	return nil
}

// Accept moves the session to connected. Only the callee may accept, and
// only while the session is still ringing.
func (c *Calls) Accept(_ context.Context, callee *Client, req *proto.CallAnswerData) error {
	c.mu.Lock()
	sess, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		return gwError(CodeCallNotFound, "call not found")
	}
	if callee.UserID != sess.TargetID {
		c.mu.Unlock()
		return gwError(CodeForbidden, "not the call target")
	}
	if sess.Status != CallInitiating && sess.Status != CallRinging {
		c.mu.Unlock()
		return gwError(CodeCallState, "call already resolved")
	}
	sess.Status = CallConnected
	sess.ConnectedAt = time.Now()
	c.mu.Unlock()

	// Every transition out of ringing must cancel the timer so a stale
	// auto-cancel cannot fire after the call resolved.
	c.timers.Cancel(callTimerKey(req.CallID))

	c.rooms.Join(callee, CallRoom(req.CallID))
	c.rooms.Broadcast(CallRoom(req.CallID), &proto.Outbound{
		Event: proto.OutCallAccepted,
		Data: proto.CallEventData{
			CallID:      sess.ID,
			InitiatorID: sess.InitiatorID,
			TargetID:    sess.TargetID,
			CallType:    sess.CallType,
			SDP:         req.SDP,
		},
	}, "")

	c.log.Info().Str("call_id", sess.ID).Msg("call accepted")
	return nil
}

// Decline resolves a ringing session as declined.
func (c *Calls) Decline(_ context.Context, callee *Client, req *proto.CallAnswerData) error {
	c.mu.Lock()
	sess, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		return gwError(CodeCallNotFound, "call not found")
	}
	if callee.UserID != sess.TargetID {
		c.mu.Unlock()
		return gwError(CodeForbidden, "not the call target")
	}
	if sess.Status != CallInitiating && sess.Status != CallRinging {
		c.mu.Unlock()
		return gwError(CodeCallState, "call already resolved")
	}
	c.resolveLocked(sess, CallDeclined)
	c.mu.Unlock()

	c.teardown(sess, &proto.Outbound{Event: proto.OutCallDeclined, Data: proto.CallEventData{
		CallID:      sess.ID,
		InitiatorID: sess.InitiatorID,
		TargetID:    sess.TargetID,
		CallType:    sess.CallType,
		Reason:      req.Reason,
	}})
	c.log.Info().Str("call_id", sess.ID).Msg("call declined")
	return nil
}

// Hangup ends the session from either party.
func (c *Calls) Hangup(_ context.Context, participant *Client, req *proto.CallAnswerData) error {
	c.mu.Lock()
	sess, ok := c.sessions[req.CallID]
	if !ok {
		c.mu.Unlock()
		// Hanging up an already-gone call is a race, not an error.
		c.log.Debug().Str("call_id", req.CallID).Msg("hangup for unknown call ignored")
		return nil
	}
	if !sess.participant(participant.UserID) {
		c.mu.Unlock()
		return gwError(CodeForbidden, "not a call participant")
	}
	duration := callDuration(sess)
	c.resolveLocked(sess, CallEnded)
	c.mu.Unlock()

	c.teardown(sess, &proto.Outbound{Event: proto.OutCallEnded, Data: proto.CallEventData{
		CallID:      sess.ID,
		InitiatorID: sess.InitiatorID,
		TargetID:    sess.TargetID,
		CallType:    sess.CallType,
		Reason:      "hangup",
		EndedBy:     participant.UserID,
		Duration:    duration,
	}})
	c.log.Info().Str("call_id", sess.ID).Str("ended_by", participant.UserID).Msg("call ended")
	return nil
}

// Timeout force-ends a session that never left initiating/ringing. A
// stale fire after the call resolved is ignored.
func (c *Calls) Timeout(callID string) {
	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok || (sess.Status != CallInitiating && sess.Status != CallRinging) {
		c.mu.Unlock()
		return
	}
	c.resolveLocked(sess, CallTimedOut)
	c.mu.Unlock()

	c.teardown(sess, &proto.Outbound{Event: proto.OutCallTimeout, Data: proto.CallEventData{
		CallID:      sess.ID,
		InitiatorID: sess.InitiatorID,
		TargetID:    sess.TargetID,
		CallType:    sess.CallType,
		Reason:      "timeout",
	}})
	c.log.Info().Str("call_id", callID).Msg("call timed out")
}

// Candidate relays an ICE candidate between call-room members.
// Candidates for a session that no longer exists are silently ignored;
// they can legitimately arrive after a timeout or hangup race.
func (c *Calls) Candidate(_ context.Context, sender *Client, req *proto.CallSignalData) error {
	return c.relay(sender, req, proto.OutCallICECandidate)
}

// Renegotiate relays a media add/remove offer; it never changes session
// state.
func (c *Calls) Renegotiate(_ context.Context, sender *Client, req *proto.CallSignalData) error {
	return c.relay(sender, req, proto.OutCallRenegotiate)
}

func (c *Calls) relay(sender *Client, req *proto.CallSignalData, event string) error {
	c.mu.Lock()
	sess, ok := c.sessions[req.CallID]
	if !ok || sess.Status.terminal() {
		c.mu.Unlock()
		c.log.Debug().Str("call_id", req.CallID).Str("event", event).Msg("signal for absent call ignored")
		return nil
	}
	if !sess.participant(sender.UserID) {
		c.mu.Unlock()
		return gwError(CodeForbidden, "not a call participant")
	}
	c.mu.Unlock()

	c.rooms.Broadcast(CallRoom(req.CallID), &proto.Outbound{
		Event: event,
		Data: proto.CallSignalData{
			CallID:    req.CallID,
			Candidate: req.Candidate,
			SDP:       req.SDP,
			UserID:    sender.UserID,
		},
	}, sender.ID)
	return nil
}

// MediaState updates a participant's flags and notifies the rest of the
// call room; the top-level call state never changes.
func (c *Calls) MediaState(_ context.Context, sender *Client, req *proto.CallMediaStateData) error {
	c.mu.Lock()
	sess, ok := c.sessions[req.CallID]
	if !ok || sess.Status.terminal() {
		c.mu.Unlock()
		c.log.Debug().Str("call_id", req.CallID).Msg("media state for absent call ignored")
		return nil
	}
	if !sess.participant(sender.UserID) {
		c.mu.Unlock()
		return gwError(CodeForbidden, "not a call participant")
	}
	sess.Media[sender.UserID] = &MediaState{
		AudioEnabled: req.AudioEnabled,
		VideoEnabled: req.VideoEnabled,
		ScreenShare:  req.ScreenShare,
	}
	c.mu.Unlock()

	c.rooms.Broadcast(CallRoom(req.CallID), &proto.Outbound{
		Event: proto.OutCallMediaChanged,
		Data: proto.CallMediaStateData{
			CallID:       req.CallID,
			UserID:       sender.UserID,
			AudioEnabled: req.AudioEnabled,
			VideoEnabled: req.VideoEnabled,
			ScreenShare:  req.ScreenShare,
		},
	}, sender.ID)
	return nil
}

// HandleDisconnect cleans up the calls of a user whose last connection
// dropped: the peer is told the participant left, and the session ends
// because a two-party call cannot continue with one side.
func (c *Calls) HandleDisconnect(userID string) {
	c.mu.Lock()
	var affected []*CallSession
	for callID := range c.byUser[userID] {
		if sess := c.sessions[callID]; sess != nil && !sess.Status.terminal() {
			affected = append(affected, sess)
		}
	}
	c.mu.Unlock()

	for _, sess := range affected {
		c.mu.Lock()
		if sess.Status.terminal() {
			c.mu.Unlock()
			continue
		}
		duration := callDuration(sess)
		c.resolveLocked(sess, CallEnded)
		c.mu.Unlock()

		peer := sess.other(userID)
		left := &proto.Outbound{Event: proto.OutCallParticipantLeft, Data: proto.CallParticipantLeftData{
			CallID: sess.ID,
			UserID: userID,
		}}
		c.rooms.BroadcastExceptUser(CallRoom(sess.ID), left, userID)
		c.rooms.Broadcast(UserRoom(peer), left, "")

		c.teardown(sess, &proto.Outbound{Event: proto.OutCallEnded, Data: proto.CallEventData{
			CallID:      sess.ID,
			InitiatorID: sess.InitiatorID,
			TargetID:    sess.TargetID,
			CallType:    sess.CallType,
			Reason:      "participant_disconnected",
			EndedBy:     userID,
			Duration:    duration,
		}})
		c.log.Info().Str("call_id", sess.ID).Str("user_id", userID).Msg("call ended by disconnect")
	}
}

// Session returns a copy of the session's top-level state, for tests and
// introspection.
func (c *Calls) Session(callID string) (CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[callID]
	if !ok {
		return CallSession{}, false
	}
	return *sess, true
}

// Shutdown cancels all timers.
func (c *Calls) Shutdown() {
	c.timers.StopAll()
}

// resolveLocked moves a session to a terminal state and drops it from
// the maps. Callers hold c.mu and have already checked the current
// status allows the transition.
func (c *Calls) resolveLocked(sess *CallSession, status CallStatus) {
	sess.Status = status
	delete(c.sessions, sess.ID)
	c.unindexLocked(sess)
}

// teardown finishes a resolved session: cancel the timer, broadcast the
// terminal event to the call room and, when the target never joined it,
// to the target's personal room, then empty the call room.
func (c *Calls) teardown(sess *CallSession, ev *proto.Outbound) {
	c.timers.Cancel(callTimerKey(sess.ID))
	metrics.CallsActive.Dec()

	c.rooms.Broadcast(CallRoom(sess.ID), ev, "")
	if !c.rooms.UserInRoom(sess.TargetID, CallRoom(sess.ID)) {
		c.rooms.Broadcast(UserRoom(sess.TargetID), ev, "")
	}
	c.rooms.Clear(CallRoom(sess.ID))
}

func (c *Calls) indexLocked(sess *CallSession) {
	for _, userID := range []string{sess.InitiatorID, sess.TargetID} {
		calls := c.byUser[userID]
		if calls == nil {
			calls = make(map[string]struct{})
			c.byUser[userID] = calls
		}
		calls[sess.ID] = struct{}{}
	}
}

func (c *Calls) unindexLocked(sess *CallSession) {
	for _, userID := range []string{sess.InitiatorID, sess.TargetID} {
		if calls := c.byUser[userID]; calls != nil {
			delete(calls, sess.ID)
			if len(calls) == 0 {
				delete(c.byUser, userID)
			}
		}
	}
}

func callDuration(sess *CallSession) int64 {
	if sess.ConnectedAt.IsZero() {
		return 0
	}
	return int64(time.Since(sess.ConnectedAt) / time.Millisecond)
}
