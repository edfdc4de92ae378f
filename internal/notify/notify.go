// Package notify publishes wake-up notifications for users with no live
// connection. The actual push delivery (APNs/FCM) is a downstream
// consumer of the subjects published here.
package notify

import "context"

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) MessageQueued(context.Context, string, string, string, string, string) error {
	return nil
}

func (Noop) IncomingCall(context.Context, string, string, string, string) error {
	return nil
}
