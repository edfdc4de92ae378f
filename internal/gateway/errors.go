package gateway

// Error codes surfaced to clients.
const (
	CodeNotAuthenticated = "not_authenticated"
	CodeForbidden        = "forbidden"
	CodeInvalidPayload   = "invalid_payload"
	CodeInternal         = "internal_error"
	CodeUnknownEvent     = "unknown_event"

	CodeCallNotFound  = "call_not_found"
	CodeCallExists    = "call_exists"
	CodeCallState     = "invalid_call_state"
	CodeCallDebounced = "call_debounced"
)

// Error wraps a code, a human-readable message, and the client's
// correlation id when the failed request carried one.
type Error struct {
	Code    string
	Message string
	LocalID string
}

func (e *Error) Error() string {
	return e.Message
}

func gwError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
