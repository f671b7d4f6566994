package guard

import (
	"context"
	"errors"
	"time"
)

// ErrTrackerUnavailable wraps backend failures (e.g. Redis unreachable).
var ErrTrackerUnavailable = errors.New("attempt tracker unavailable")

// Tracker is a keyed store of fixed-window counters and time-boxed locks.
// Every operation is atomic per key.
type Tracker interface {
	// Increment adds one to key and returns the new count and the time left
	// in its window. The window starts on the first hit.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Count returns the live count for key, 0 when absent or expired.
	Count(ctx context.Context, key string) (int64, error)
	// Lock marks key as locked for d.
	Lock(ctx context.Context, key string, d time.Duration) error
	// LockedFor returns the remaining lock time, 0 when not locked.
	LockedFor(ctx context.Context, key string) (time.Duration, error)
	// Reset removes counters and locks for keys.
	Reset(ctx context.Context, keys ...string) error
}
