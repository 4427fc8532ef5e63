// Package blockcounter implements the circuit-breaker counter used by the
// oracle evaluation engine: a monotonic atomic increment per rule id with
// TTL-based eviction, per spec §4.1 step 6 and §4.6.
package blockcounter

import (
	"context"
	"time"
)

// BlockCounter is a monotonic counter keyed by ruleId with a rolling TTL
// window. Get must return 0 for entries whose window has expired; callers
// never do read-then-write, they call Increment and read the returned count.
type BlockCounter interface {
	// Increment atomically increments the counter for key within window and
	// returns the post-increment count. A key whose prior window has expired
	// starts a fresh window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Get returns the current count for key, or 0 if the key is absent or its
	// window has expired.
	Get(ctx context.Context, key string) (int64, error)

	// Reset clears the counter for key immediately, used by tests and by
	// operator-triggered circuit resets.
	Reset(ctx context.Context, key string) error
}
