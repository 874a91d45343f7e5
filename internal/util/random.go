package util

import (
	"crypto/rand"
	"encoding/hex"
)

// SessionIDPrefix marks coaching session IDs.
const SessionIDPrefix = "s_"

// sessionIDBytes is 128 bits; session IDs act as bearer credentials.
const sessionIDBytes = 16

// GenerateToken returns prefix followed by n random bytes from crypto/rand, hex encoded.
// The result has len(prefix)+2n characters; n <= 0 yields just the prefix.
func GenerateToken(prefix string, n int) string {
	if n <= 0 {
		return prefix
	}
	buf := make([]byte, n)
	// crypto/rand.Read never returns an error on supported platforms (Go 1.24).
	_, _ = rand.Read(buf)
	return prefix + hex.EncodeToString(buf)
}

// GenerateSessionID returns a new session ID such as "s_3f9c...".
func GenerateSessionID() string {
	return GenerateToken(SessionIDPrefix, sessionIDBytes)
}

// IsSessionID reports whether id has the shape GenerateSessionID produces.
func IsSessionID(id string) bool {
	if len(id) != len(SessionIDPrefix)+2*sessionIDBytes || id[:len(SessionIDPrefix)] != SessionIDPrefix {
		return false
	}
	_, err := hex.DecodeString(id[len(SessionIDPrefix):])
	return err == nil
}
