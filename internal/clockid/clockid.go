// Package clockid provides the clock and identifier primitives injected
// throughout the gateway, so tests can freeze time and identifiers instead
// of reaching for global state.
package clockid

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current instant. Production code uses SystemClock;
// tests substitute a fixed or stepped implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, always returning UTC.
type SystemClock struct{}

// Now returns the current UTC instant.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed is a Clock that always returns the same instant, for deterministic tests.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// IDProvider generates globally-unique opaque identifiers.
type IDProvider interface {
	NewID() string
}

// UUIDProvider generates identifiers via google/uuid, matching the style
// already used for node identifiers in the teacher's API layer.
type UUIDProvider struct{}

// NewID returns a fresh UUIDv4, hyphen-free to match the source system's
// hex-encoded uuid4().hex convention.
func (UUIDProvider) NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
