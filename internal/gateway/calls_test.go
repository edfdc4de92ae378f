package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lumachat/gateway/internal/proto"
)

type callsFixture struct {
	calls    *Calls
	rooms    *Rooms
	registry *Registry
	notifier *recordingNotifier
}

func newCallsFixture(t *testing.T, timeout, debounce time.Duration) *callsFixture {
	t.Helper()

	f := &callsFixture{
		rooms:    NewRooms(),
		registry: NewRegistry(),
		notifier: &recordingNotifier{},
	}
	f.calls = NewCalls(f.rooms, f.registry, f.notifier, timeout, debounce, testLogger())
	t.Cleanup(f.calls.Shutdown)
	return f
}

func (f *callsFixture) connect(c *Client) {
	f.registry.Register(c, c.UserID, DeviceInfo{DeviceID: c.ID})
	f.rooms.Join(c, UserRoom(c.UserID))
}

func TestCallInitiateRingsOnlineTarget(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{
		CallID:   "call-1",
		TargetID: "bob",
		CallType: "video",
		SDP:      "offer-sdp",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	sess, ok := f.calls.Session("call-1")
	if !ok || sess.Status != CallRinging {
		t.Fatalf("expected ringing session, got %+v ok=%v", sess, ok)
	}

	incoming := mustEvent(t, bob.Events, proto.OutCallIncoming)
	data := incoming.Data.(proto.CallEventData)
	if data.InitiatorID != "alice" || data.SDP != "offer-sdp" || data.CallType != "video" {
		t.Fatalf("unexpected incoming payload: %+v", data)
	}
	if !f.rooms.IsMember(alice.ID, CallRoom("call-1")) {
		t.Fatal("caller should join the call room on initiate")
	}
	if f.notifier.incomingCount() != 0 {
		t.Fatal("online target must not trigger a push notification")
	}
}

func TestCallInitiateOfflineTargetNotifies(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	f.connect(alice)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	sess, _ := f.calls.Session("call-1")
	if sess.Status != CallInitiating {
		t.Fatalf("expected initiating for offline target, got %v", sess.Status)
	}
	if f.notifier.incomingCount() != 1 {
		t.Fatalf("expected 1 incoming-call notification, got %d", f.notifier.incomingCount())
	}
}

func TestCallInitiateValidation(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	f.connect(alice)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{TargetID: "bob"}); err == nil {
		t.Fatal("expected error for missing sdp")
	}
	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{TargetID: "alice", SDP: "offer"}); err == nil {
		t.Fatal("expected error for self-call")
	}

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "dup", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "dup", TargetID: "carol", SDP: "offer"})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeCallExists {
		t.Fatalf("expected call_exists, got %v", err)
	}
}

func TestCallInitiateDebounce(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 200*time.Millisecond)

	alice := testClient(t, "conn-a", "alice", "Alice")
	f.connect(alice)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-2", TargetID: "bob", SDP: "offer"})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeCallDebounced {
		t.Fatalf("expected call_debounced, got %v", err)
	}

	// A different target is not debounced.
	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-3", TargetID: "carol", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate to other target: %v", err)
	}
}

func TestCallAcceptConnects(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Only the callee may accept.
	err := f.calls.Accept(ctx, alice, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeForbidden {
		t.Fatalf("expected forbidden for initiator accept, got %v", err)
	}

	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	sess, _ := f.calls.Session("call-1")
	if sess.Status != CallConnected || sess.ConnectedAt.IsZero() {
		t.Fatalf("expected connected session, got %+v", sess)
	}

	accepted := mustEvent(t, alice.Events, proto.OutCallAccepted)
	if data := accepted.Data.(proto.CallEventData); data.SDP != "answer" {
		t.Fatalf("expected answer sdp relayed to caller, got %+v", data)
	}

	// Accepting a resolved call is a state error.
	err = f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "again"})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeCallState {
		t.Fatalf("expected invalid_call_state, got %v", err)
	}
}

func TestCallDeclineEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Decline(ctx, bob, &proto.CallAnswerData{CallID: "call-1", Reason: "busy"}); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	declined := mustEvent(t, alice.Events, proto.OutCallDeclined)
	if data := declined.Data.(proto.CallEventData); data.Reason != "busy" {
		t.Fatalf("unexpected decline payload: %+v", data)
	}
	if _, ok := f.calls.Session("call-1"); ok {
		t.Fatal("declined session should be removed")
	}
	if f.rooms.Members(CallRoom("call-1")) != 0 {
		t.Fatal("call room should be emptied after decline")
	}
}

func TestCallTimesOutWhileRinging(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, 50*time.Millisecond, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	timeoutEv := mustEvent(t, alice.Events, proto.OutCallTimeout)
	if data := timeoutEv.Data.(proto.CallEventData); data.Reason != "timeout" {
		t.Fatalf("unexpected timeout payload: %+v", data)
	}
	// The callee never joined the call room, so the terminal event arrives
	// on their personal room.
	mustEvent(t, bob.Events, proto.OutCallTimeout)

	err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeCallNotFound {
		t.Fatalf("expected call_not_found after timeout, got %v", err)
	}
}

func TestCallAcceptCancelsTimeout(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, 50*time.Millisecond, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	sess, ok := f.calls.Session("call-1")
	if !ok || sess.Status != CallConnected {
		t.Fatalf("expected call to survive the timeout window, got %+v ok=%v", sess, ok)
	}
	mustNoEvent(t, alice.Events, proto.OutCallTimeout)
}

func TestCallHangupFromEitherParty(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	drain(alice.Events)
	drain(bob.Events)

	if err := f.calls.Hangup(ctx, bob, &proto.CallAnswerData{CallID: "call-1"}); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	ended := mustEvent(t, alice.Events, proto.OutCallEnded)
	data := ended.Data.(proto.CallEventData)
	if data.EndedBy != "bob" || data.Reason != "hangup" {
		t.Fatalf("unexpected ended payload: %+v", data)
	}

	// Hanging up an already-gone call is tolerated.
	if err := f.calls.Hangup(ctx, alice, &proto.CallAnswerData{CallID: "call-1"}); err != nil {
		t.Fatalf("repeat Hangup: %v", err)
	}
}

func TestCallDisconnectEndsInFlightCall(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	drain(alice.Events)

	f.calls.HandleDisconnect("bob")

	mustEvent(t, alice.Events, proto.OutCallParticipantLeft)
	ended := mustEvent(t, alice.Events, proto.OutCallEnded)
	if data := ended.Data.(proto.CallEventData); data.Reason != "participant_disconnected" || data.EndedBy != "bob" {
		t.Fatalf("unexpected ended payload: %+v", data)
	}
	if _, ok := f.calls.Session("call-1"); ok {
		t.Fatal("session should be removed after disconnect")
	}
}

func TestCallSignalRelayExcludesSender(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	carol := testClient(t, "conn-c", "carol", "Carol")
	f.connect(alice)
	f.connect(bob)
	f.connect(carol)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	drain(alice.Events)
	drain(bob.Events)

	candidate := json.RawMessage(`{"candidate":"candidate:1"}`)
	if err := f.calls.Candidate(ctx, alice, &proto.CallSignalData{CallID: "call-1", Candidate: candidate}); err != nil {
		t.Fatalf("Candidate: %v", err)
	}

	relayed := mustEvent(t, bob.Events, proto.OutCallICECandidate)
	if data := relayed.Data.(proto.CallSignalData); data.UserID != "alice" {
		t.Fatalf("unexpected relay payload: %+v", data)
	}
	mustNoEvent(t, alice.Events, proto.OutCallICECandidate)

	// An outsider cannot inject signaling.
	err := f.calls.Candidate(ctx, carol, &proto.CallSignalData{CallID: "call-1", Candidate: candidate})
	if gwErr, ok := err.(*Error); !ok || gwErr.Code != CodeForbidden {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}

	// Late candidates for a dead call are dropped, not errors.
	if err := f.calls.Candidate(ctx, alice, &proto.CallSignalData{CallID: "gone", Candidate: candidate}); err != nil {
		t.Fatalf("Candidate for absent call: %v", err)
	}
}

func TestCallMediaStateBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newCallsFixture(t, time.Second, 0)

	alice := testClient(t, "conn-a", "alice", "Alice")
	bob := testClient(t, "conn-b", "bob", "Bob")
	f.connect(alice)
	f.connect(bob)

	if err := f.calls.Initiate(ctx, alice, &proto.CallInitiateData{CallID: "call-1", TargetID: "bob", CallType: "video", SDP: "offer"}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.calls.Accept(ctx, bob, &proto.CallAnswerData{CallID: "call-1", SDP: "answer"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	drain(alice.Events)

	if err := f.calls.MediaState(ctx, bob, &proto.CallMediaStateData{
		CallID:       "call-1",
		AudioEnabled: true,
		ScreenShare:  true,
	}); err != nil {
		t.Fatalf("MediaState: %v", err)
	}

	changed := mustEvent(t, alice.Events, proto.OutCallMediaChanged)
	data := changed.Data.(proto.CallMediaStateData)
	if data.UserID != "bob" || !data.ScreenShare || data.VideoEnabled {
		t.Fatalf("unexpected media payload: %+v", data)
	}

	sess, _ := f.calls.Session("call-1")
	if sess.Status != CallConnected {
		t.Fatal("media updates must not change call status")
	}
}
