// Package ids generates the prefixed, time-ordered identifiers used for
// sessions, messages and runs.
package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the identifier kinds.
const (
	SessionPrefix = "s"
	MessagePrefix = "m"
	RunPrefix     = "r"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns prefix + "_" + a lowercase ULID. Ids from one process sort in
// creation order.
func New(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()

	return prefix + "_" + strings.ToLower(id.String())
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}
