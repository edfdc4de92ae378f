package gateway

import (
	"sync"

	"github.com/lumachat/gateway/internal/metrics"
)

// DeviceInfo describes the device behind a connection.
type DeviceInfo struct {
	DeviceID   string
	DeviceType string
	Platform   string
}

type connEntry struct {
	client *Client
	userID string
	device DeviceInfo
}

// Registry tracks live connections and their owning users. Registration
// happens only after successful authentication; there is never a
// half-registered entry.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*connEntry
	byUser map[string]map[string]*Client
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*connEntry),
		byUser: make(map[string]map[string]*Client),
	}
}

// Register binds an authenticated connection to its user. Returns true
// when this is the user's first active connection, so the caller can
// drive the online presence transition.
func (r *Registry) Register(c *Client, userID string, device DeviceInfo) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byConn[c.ID] = &connEntry{client: c, userID: userID, device: device}

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]*Client)
		r.byUser[userID] = conns
		first = true
		metrics.OnlineUsers.Inc()
	}
	conns[c.ID] = c

	metrics.WsConnections.Inc()
	return first
}

// Unregister removes a connection. Returns the owning user and whether
// this was the user's last connection, so the caller can drive the
// offline presence transition.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.byConn[connID]
	if !found {
		return "", false, false
	}
	delete(r.byConn, connID)
	metrics.WsConnections.Dec()

	userID = entry.userID
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
			last = true
			metrics.OnlineUsers.Dec()
		}
	}
	return userID, last, true
}

// ConnectionsOf returns the user's live connections.
func (r *Registry) ConnectionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// AllClients returns every live connection, across all users.
func (r *Registry) AllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byConn))
	for _, entry := range r.byConn {
		out = append(out, entry.client)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// UserOf resolves a connection to its user.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	return entry.userID, true
}

// DeviceOf resolves a connection to its device info.
func (r *Registry) DeviceOf(connID string) (DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connID]
	if !ok {
		return DeviceInfo{}, false
	}
	return entry.device, true
}
