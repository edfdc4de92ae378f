// Package devices mirrors device registrations into a shared store so
// that other gateway instances can see them. The mirror is advisory:
// each process trusts its own in-memory registry for routing decisions
// and treats the shared view as eventually consistent.
package devices

import "context"

// Registration describes one device connection on a gateway instance.
type Registration struct {
	UserID    string
	DeviceID  string
	GatewayID string
}

// Mirror records cross-process device registrations.
type Mirror interface {
	// RegisterDevice records that a device is connected to a gateway.
	RegisterDevice(ctx context.Context, reg Registration) error

	// UnregisterDevice removes a device registration.
	UnregisterDevice(ctx context.Context, userID, deviceID string) error

	// DevicesOf lists device ids registered for a user, across instances.
	DevicesOf(ctx context.Context, userID string) (map[string]string, error)
}

// Noop is used when no shared store is configured.
type Noop struct{}

func (Noop) RegisterDevice(context.Context, Registration) error { return nil }

func (Noop) UnregisterDevice(context.Context, string, string) error { return nil }

func (Noop) DevicesOf(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}
