package gateway

import (
	"sync"

	"github.com/lumachat/gateway/internal/proto"
)

// Room name helpers. Rooms are internal delivery groups, never visible
// to clients.
func ConversationRoom(id string) string { return "conversation:" + id }
func UserRoom(id string) string         { return "user:" + id }
func PresenceRoom(id string) string     { return "presence:" + id }
func CallRoom(id string) string         { return "call:" + id }

// Rooms is the broadcast fabric: a many-to-many relation between named
// rooms and connections. It performs no authorization; callers verify
// membership before joining a connection to a conversation room.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Client
	byConn map[string]map[string]struct{}
}

// NewRooms builds an empty fabric.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room.
func (r *Rooms) Join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[room] = members
	}
	members[c.ID] = c

	joined := r.byConn[c.ID]
	if joined == nil {
		joined = make(map[string]struct{})
		r.byConn[c.ID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes a connection from a room.
func (r *Rooms) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c.ID, room)
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect so a closed connection can never receive another event.
func (r *Rooms) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.byConn[c.ID] {
		r.leaveLocked(c.ID, room)
	}
	delete(r.byConn, c.ID)
}

func (r *Rooms) leaveLocked(connID, room string) {
	if members := r.rooms[room]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if joined := r.byConn[connID]; joined != nil {
		delete(joined, room)
	}
}

// IsMember reports whether a connection has joined a room.
func (r *Rooms) IsMember(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][connID]
	return ok
}

// UserInRoom reports whether any of a user's connections joined a room.
func (r *Rooms) UserInRoom(userID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Members returns the number of connections in a room.
func (r *Rooms) Members(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Broadcast fans an event out to every member connection of a room,
// except an optionally excluded sender connection. Returns the number of
// connections the event was queued for.
func (r *Rooms) Broadcast(room string, ev *proto.Outbound, excludeConnID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, c := range r.rooms[room] {
		if id == excludeConnID {
			continue
		}
		if c.Send(ev) {
			n++
		}
	}
	return n
}

// BroadcastExceptUser fans an event out to every member connection not
// owned by excludeUserID. Used when the excluded party may hold several
// connections (read receipts, typing).
func (r *Rooms) BroadcastExceptUser(room string, ev *proto.Outbound, excludeUserID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.rooms[room] {
		if c.UserID == excludeUserID {
			continue
		}
		if c.Send(ev) {
			n++
		}
	}
	return n
}

// Clear removes every member from a room. Used for call-room teardown.
func (r *Rooms) Clear(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.rooms[room] {
		if joined := r.byConn[connID]; joined != nil {
			delete(joined, room)
		}
	}
	delete(r.rooms, room)
}
