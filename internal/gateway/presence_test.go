package gateway

import (
	"context"
	"testing"

	"github.com/lumachat/gateway/internal/proto"
)

func newPresenceFixture(t *testing.T, contacts map[string][]string) (*Presence, *Rooms) {
	t.Helper()

	rooms := NewRooms()
	return NewPresence(rooms, &memContacts{contacts: contacts}, testLogger()), rooms
}

func TestPresenceConnectNotifiesContacts(t *testing.T) {
	ctx := context.Background()
	p, rooms := newPresenceFixture(t, map[string][]string{"alice": {"bob"}})

	bob := testClient(t, "conn-b", "bob", "Bob")
	rooms.Join(bob, PresenceRoom("bob"))

	p.HandleConnect(ctx, "alice")

	ev := mustEvent(t, bob.Events, proto.OutContactPresence)
	data := ev.Data.(proto.PresenceData)
	if data.UserID != "alice" || data.Status != string(StatusOnline) {
		t.Fatalf("unexpected presence payload: %+v", data)
	}
}

func TestPresenceDisconnectReportsOfflineWithLastSeen(t *testing.T) {
	ctx := context.Background()
	p, rooms := newPresenceFixture(t, map[string][]string{"alice": {"bob"}})

	bob := testClient(t, "conn-b", "bob", "Bob")
	rooms.Join(bob, PresenceRoom("bob"))

	p.HandleConnect(ctx, "alice")
	mustEvent(t, bob.Events, proto.OutContactPresence)

	p.HandleDisconnect(ctx, "alice")
	ev := mustEvent(t, bob.Events, proto.OutContactPresence)
	data := ev.Data.(proto.PresenceData)
	if data.Status != string(StatusOffline) || data.LastSeen == 0 {
		t.Fatalf("unexpected offline payload: %+v", data)
	}

	// A second disconnect for a user with no entry must be silent.
	p.HandleDisconnect(ctx, "alice")
	mustNoEvent(t, bob.Events, proto.OutContactPresence)
}

func TestPresenceUpdateStatus(t *testing.T) {
	ctx := context.Background()
	p, rooms := newPresenceFixture(t, map[string][]string{"alice": {"bob"}})

	bob := testClient(t, "conn-b", "bob", "Bob")
	rooms.Join(bob, PresenceRoom("bob"))

	p.HandleConnect(ctx, "alice")
	mustEvent(t, bob.Events, proto.OutContactPresence)

	if err := p.UpdateStatus(ctx, "alice", StatusBusy, "in a meeting"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	ev := mustEvent(t, bob.Events, proto.OutContactPresence)
	data := ev.Data.(proto.PresenceData)
	if data.Status != string(StatusBusy) || data.StatusMessage != "in a meeting" {
		t.Fatalf("unexpected status payload: %+v", data)
	}

	if err := p.UpdateStatus(ctx, "alice", "sleeping", ""); err == nil {
		t.Fatal("expected error for unknown status")
	}

	// A status update for a disconnected user is dropped, not an error.
	p.HandleDisconnect(ctx, "alice")
	drain(bob.Events)
	if err := p.UpdateStatus(ctx, "alice", StatusAway, ""); err != nil {
		t.Fatalf("UpdateStatus after disconnect: %v", err)
	}
	mustNoEvent(t, bob.Events, proto.OutContactPresence)
}

func TestPresenceSnapshotUnknownUserIsOffline(t *testing.T) {
	ctx := context.Background()
	p, _ := newPresenceFixture(t, nil)

	p.HandleConnect(ctx, "alice")

	snap := p.Snapshot([]string{"alice", "ghost"})
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Status != string(StatusOnline) {
		t.Fatalf("expected alice online, got %+v", snap[0])
	}
	if snap[1].Status != string(StatusOffline) || snap[1].LastSeen != 0 {
		t.Fatalf("expected ghost offline with no last seen, got %+v", snap[1])
	}
}

func TestPresenceHeartbeatRecreatesEntry(t *testing.T) {
	ctx := context.Background()
	p, rooms := newPresenceFixture(t, map[string][]string{"alice": {"bob"}})

	bob := testClient(t, "conn-b", "bob", "Bob")
	rooms.Join(bob, PresenceRoom("bob"))

	// Heartbeat with no prior entry: reconnect race, entry is recreated and
	// contacts are told.
	p.Heartbeat(ctx, "alice")
	ev := mustEvent(t, bob.Events, proto.OutContactPresence)
	if ev.Data.(proto.PresenceData).Status != string(StatusOnline) {
		t.Fatalf("unexpected payload: %+v", ev.Data)
	}

	// A routine heartbeat must not re-notify.
	p.Heartbeat(ctx, "alice")
	mustNoEvent(t, bob.Events, proto.OutContactPresence)
}
