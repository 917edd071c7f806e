package ident

import (
	"strings"

	"github.com/google/uuid"
)

// SampleID returns a unique sample identifier.
func SampleID() string {
	return uuid.NewString()
}

// SessionID returns a short identifier for recordings and sessions.
func SessionID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:10]
}
