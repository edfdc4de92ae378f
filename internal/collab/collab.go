// Package collab declares the interfaces of the gateway's external
// collaborators. The gateway core depends only on these contracts; the
// reference implementations live in sibling packages (auth, files,
// notify, store/sqlite).
package collab

import "context"

// Identity is the result of verifying an authentication token.
type Identity struct {
	UserID   string
	UserName string
}

// TokenVerifier validates handshake credentials. A verification failure
// closes the transport before any registration happens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// FileInfo is verified attachment metadata. Size and MimeType are always
// populated for a verified file.
type FileInfo struct {
	ID       string
	Name     string
	MimeType string
	Size     int64
	URL      string
}

// FileResolver resolves attachment references before a message is
// accepted. An unresolvable attachment aborts the whole send.
type FileResolver interface {
	// ResolveOwned fetches metadata and verifies the file belongs to
	// ownerID.
	ResolveOwned(ctx context.Context, fileID, ownerID string) (*FileInfo, error)

	// ResolveBatch fetches metadata for several file ids; it fails if any
	// id is unknown.
	ResolveBatch(ctx context.Context, fileIDs []string) ([]*FileInfo, error)
}

// Notifier wakes devices that have no live connection. Calls are
// best-effort: failures are logged by the caller and never retried
// synchronously.
type Notifier interface {
	// MessageQueued signals that a message was queued for an offline user.
	MessageQueued(ctx context.Context, userID, conversationID, messageID, senderID, preview string) error

	// IncomingCall signals a ringing call to an offline or backgrounded
	// user.
	IncomingCall(ctx context.Context, userID, callID, callerID, callType string) error
}
