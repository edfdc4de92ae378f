// Package gateway is the real-time core: connection registry, room
// fabric, presence, typing indicators, the message delivery pipeline,
// and call signaling. Each stateful component owns its maps behind a
// mutex; other components only call through the exported contracts.
package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/collab"
	"github.com/lumachat/gateway/internal/devices"
	"github.com/lumachat/gateway/internal/store"
)

// Deps are the collaborators and tunables the gateway core is built
// from.
type Deps struct {
	Log *zerolog.Logger

	Messages      store.MessageStore
	Conversations store.ConversationStore
	Contacts      store.ContactStore
	Files         collab.FileResolver
	Notifier      collab.Notifier
	Mirror        devices.Mirror

	GatewayID    string
	TypingExpiry time.Duration
	CallTimeout  time.Duration
	CallDebounce time.Duration
}

// Gateway ties the core components together and dispatches inbound
// events to them.
type Gateway struct {
	log *zerolog.Logger

	Registry *Registry
	Rooms    *Rooms
	Presence *Presence
	Typing   *Typing
	Delivery *Delivery
	Calls    *Calls

	convs    store.ConversationStore
	mirror   devices.Mirror
	gwID     string
	handlers map[string]handlerFunc
}

// New builds the gateway core.
func New(deps Deps) *Gateway {
	registry := NewRegistry()
	rooms := NewRooms()
	presence := NewPresence(rooms, deps.Contacts, deps.Log)
	typing := NewTyping(rooms, deps.TypingExpiry, deps.Log)
	delivery := NewDelivery(registry, rooms, typing, deps.Messages, deps.Conversations, deps.Files, deps.Notifier, deps.Log)
	calls := NewCalls(rooms, registry, deps.Notifier, deps.CallTimeout, deps.CallDebounce, deps.Log)

	g := &Gateway{
		log:      deps.Log,
		Registry: registry,
		Rooms:    rooms,
		Presence: presence,
		Typing:   typing,
		Delivery: delivery,
		Calls:    calls,
		convs:    deps.Conversations,
		mirror:   deps.Mirror,
		gwID:     deps.GatewayID,
	}
	g.handlers = g.buildHandlers()
	return g
}

// Connect registers an authenticated connection: bind it to the user,
// join the personal rooms, mirror the device registration, drive the
// presence transition, and replay any queued messages.
func (g *Gateway) Connect(ctx context.Context, c *Client, identity *collab.Identity, device DeviceInfo) {
	c.UserID = identity.UserID
	c.UserName = identity.UserName

	first := g.Registry.Register(c, identity.UserID, device)

	g.Rooms.Join(c, UserRoom(identity.UserID))
	g.Rooms.Join(c, PresenceRoom(identity.UserID))

	if err := g.mirror.RegisterDevice(ctx, devices.Registration{
		UserID:    identity.UserID,
		DeviceID:  device.DeviceID,
		GatewayID: g.gwID,
	}); err != nil {
		g.log.Warn().Err(err).Str("user_id", identity.UserID).Msg("device mirror registration failed")
	}

	if first {
		g.Presence.HandleConnect(ctx, identity.UserID)
	}

	g.Delivery.FlushQueue(ctx, c)

	g.log.Info().Str("conn_id", c.ID).Str("user_id", identity.UserID).
		Str("device_id", device.DeviceID).Bool("first", first).Msg("connection registered")
}

// Disconnect tears a connection down. Disconnection is the universal
// cancellation trigger: when the user's last connection drops it clears
// typing state and force-ends in-flight calls.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	device, _ := g.Registry.DeviceOf(c.ID)
	userID, last, ok := g.Registry.Unregister(c.ID)
	g.Rooms.LeaveAll(c)
	if !ok {
		return
	}

	if err := g.mirror.UnregisterDevice(ctx, userID, device.DeviceID); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("device mirror unregistration failed")
	}

	if last {
		g.Typing.ClearUser(userID)
		g.Calls.HandleDisconnect(userID)
		g.Presence.HandleDisconnect(ctx, userID)
	}

	g.log.Info().Str("conn_id", c.ID).Str("user_id", userID).Bool("last", last).Msg("connection closed")
}

// Shutdown stops all component timers and signals every live connection
// to close, so transports can send a going-away status.
func (g *Gateway) Shutdown() {
	g.Typing.Shutdown()
	g.Calls.Shutdown()
	for _, c := range g.Registry.AllClients() {
		c.Close()
	}
}
