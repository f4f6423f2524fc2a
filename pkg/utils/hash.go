package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the first 16 hex characters of the SHA-256 of s.
// Used to keep user-controlled strings out of storage keys.
func HashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}
