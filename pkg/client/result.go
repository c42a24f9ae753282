package client

import (
	"github.com/Sternrassler/mensa-client/pkg/cache"
	"github.com/Sternrassler/mensa-client/pkg/request"
)

// State classifies a cache probe.
type State int

const (
	// StateMiss means no entry exists.
	StateMiss State = iota

	// StateStale means an entry exists but is older than the TTL.
	StateStale

	// StateHit means a fresh entry exists and its payload was read.
	StateHit
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateMiss:
		return "miss"
	case StateStale:
		return "stale"
	case StateHit:
		return "hit"
	default:
		return "unknown"
	}
}

// CacheResult is the outcome of a probe. It is never persisted.
//
// Text is only set for StateHit. Headers and Entry are set for StateHit
// and StateStale.
type CacheResult struct {
	State   State
	Text    string
	Headers request.Headers
	Entry   *cache.Entry
}
