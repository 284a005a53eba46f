// Package identity mints server-issued session ids and verifies join
// tokens. No client-supplied identifier is ever trusted: a join request
// carrying a non-empty client-provided player id, save id, or binding
// token is rejected before any state is created.
package identity

import (
	"github.com/google/uuid"

	"tickruntime/broker/internal/registry"
)

// MintSessionID generates a fresh, server-issued 128-bit session id.
func MintSessionID() registry.SessionID {
	raw := uuid.New()
	var id registry.SessionID
	copy(id[:], raw[:])
	return id
}
