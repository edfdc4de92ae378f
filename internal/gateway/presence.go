package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/proto"
	"github.com/lumachat/gateway/internal/store"
)

// Status is a user's presence state.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

func validStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	default:
		return false
	}
}

type presenceEntry struct {
	status        Status
	statusMessage string
	lastSeen      time.Time
}

// Presence tracks per-user status and notifies contacts on every
// transition. One entry exists per online user; it is deleted when the
// user's connection set empties.
type Presence struct {
	mu       sync.Mutex
	online   map[string]*presenceEntry
	lastSeen map[string]time.Time

	rooms    *Rooms
	contacts store.ContactStore
	log      *zerolog.Logger
}

// NewPresence builds the coordinator.
func NewPresence(rooms *Rooms, contacts store.ContactStore, logger *zerolog.Logger) *Presence {
	return &Presence{
		online:   make(map[string]*presenceEntry),
		lastSeen: make(map[string]time.Time),
		rooms:    rooms,
		contacts: contacts,
		log:      logger,
	}
}

// HandleConnect transitions a user online. Called by the gateway when
// the registry reports the user's first active connection.
func (p *Presence) HandleConnect(ctx context.Context, userID string) {
	now := time.Now()

	p.mu.Lock()
	entry := p.online[userID]
	if entry == nil {
		entry = &presenceEntry{status: StatusOnline}
		p.online[userID] = entry
	}
	entry.lastSeen = now
	p.lastSeen[userID] = now
	data := p.snapshotLocked(userID)
	p.mu.Unlock()

	p.notifyContacts(ctx, userID, data)
}

// HandleDisconnect transitions a user offline. Called by the gateway
// when the registry reports the user's connection set emptied.
func (p *Presence) HandleDisconnect(ctx context.Context, userID string) {
	now := time.Now()

	p.mu.Lock()
	if _, ok := p.online[userID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.online, userID)
	p.lastSeen[userID] = now
	data := p.snapshotLocked(userID)
	p.mu.Unlock()

	p.notifyContacts(ctx, userID, data)
}

// UpdateStatus applies a client-driven status change (online, away,
// busy) with an optional free-text message.
func (p *Presence) UpdateStatus(ctx context.Context, userID string, status Status, message string) error {
	if !validStatus(status) {
		return gwError(CodeInvalidPayload, "unknown presence status")
	}

	now := time.Now()

	p.mu.Lock()
	entry := p.online[userID]
	if entry == nil {
		// Status updates only apply to online users; a stray update after
		// disconnect is dropped.
		p.mu.Unlock()
		return nil
	}
	entry.status = status
	entry.statusMessage = message
	entry.lastSeen = now
	p.lastSeen[userID] = now
	data := p.snapshotLocked(userID)
	p.mu.Unlock()

	p.notifyContacts(ctx, userID, data)
	return nil
}

// Heartbeat refreshes lastSeen without changing status. A heartbeat from
// a user with no entry (reconnect race) recreates the online entry.
func (p *Presence) Heartbeat(ctx context.Context, userID string) {
	now := time.Now()

	p.mu.Lock()
	entry := p.online[userID]
	recreated := false
	if entry == nil {
		entry = &presenceEntry{status: StatusOnline}
		p.online[userID] = entry
		recreated = true
	}
	entry.lastSeen = now
	p.lastSeen[userID] = now
	data := p.snapshotLocked(userID)
	p.mu.Unlock()

	if recreated {
		p.notifyContacts(ctx, userID, data)
	}
}

// Snapshot returns the presence of the requested users. Unknown or
// disconnected users report offline with their last-seen time.
func (p *Presence) Snapshot(userIDs []string) []proto.PresenceData {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]proto.PresenceData, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, p.snapshotLocked(id))
	}
	return out
}

func (p *Presence) snapshotLocked(userID string) proto.PresenceData {
	data := proto.PresenceData{UserID: userID, Status: string(StatusOffline)}
	if ls, ok := p.lastSeen[userID]; ok {
		data.LastSeen = ls.UnixMilli()
	}
	if entry, ok := p.online[userID]; ok {
		data.Status = string(entry.status)
		data.StatusMessage = entry.statusMessage
	}
	return data
}

// notifyContacts broadcasts a presence update to each contact's personal
// presence room. Fire-and-forget: failures are logged, never retried; a
// later heartbeat or reconnect reconciles.
func (p *Presence) notifyContacts(ctx context.Context, userID string, data proto.PresenceData) {
	contacts, err := p.contacts.ContactsOf(ctx, userID)
	if err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("presence fan-out: contact lookup failed")
		return
	}

	ev := &proto.Outbound{Event: proto.OutContactPresence, Data: data}
	for _, contact := range contacts {
		p.rooms.Broadcast(PresenceRoom(contact), ev, "")
	}
}
