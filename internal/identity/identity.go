// Package identity mints and validates user identifiers. Users either
// present an email address or receive a generated anonymous id; both forms
// serve as the stable key for sessions, ledgers, and feedback state.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// AnonPrefix marks generated anonymous identifiers.
const AnonPrefix = "anon_"

// NewAnonID generates a fresh anonymous user id.
func NewAnonID() string {
	return AnonPrefix + uuid.NewString()
}

// IsAnon reports whether id is a generated anonymous identifier.
func IsAnon(id string) bool {
	return strings.HasPrefix(id, AnonPrefix)
}

// Valid reports whether id is usable as a user identifier. Identifiers key
// filesystem paths and database rows, so control characters and path
// separators are rejected.
func Valid(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > 320 {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f || r == '/' || r == '\\' {
			return false
		}
	}
	return true
}
