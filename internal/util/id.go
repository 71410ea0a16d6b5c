package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 24 random hex characters, used for session tokens and request IDs.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
