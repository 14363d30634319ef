package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates access to one conversation across instances.
// It narrows the window for version conflicts; correctness still rests on the
// store's conditional writes.
type DistributedLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is done.
	// The returned UnlockFunc MUST be called to release the lock; the TTL bounds
	// how long a crashed holder can keep it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
