package session

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRunID generates "run-" followed by 8 lowercase hex characters.
// Uniqueness is the RunManager's responsibility, not the generator's.
func NewRunID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "run-" + hex.EncodeToString(b[:])
}
