package utils

import "github.com/google/uuid"

// NewID returns a unique connection identifier. Connection ids share
// the uuid format used for message and call ids.
func NewID() string {
	return uuid.NewString()
}
