package store

import "github.com/google/uuid"

// newID generates a new primary-key identifier. A thin wrapper so
// repositories never import google/uuid directly, matching the
// teacher's preference for confining a library behind one seam.
func newID() string {
	return uuid.NewString()
}

// newToken generates an opaque, high-entropy bearer token / share code.
func newToken() string {
	return uuid.NewString()
}
