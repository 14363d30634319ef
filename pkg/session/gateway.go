package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/retry"
)

const (
	// DefaultAttempts bounds retries of transient store failures.
	DefaultAttempts = 3
	// DefaultLockTTL bounds how long a crashed instance can hold a distributed lock.
	DefaultLockTTL = 30 * time.Second
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Gateway reads and conditionally writes conversation records.
// It uses reference counting to garbage collect unused locks.
type Gateway struct {
	store ports.RecordStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker   ports.DistributedLocker
	lockTTL  time.Duration
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(g *Gateway) {
		g.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl > 0 {
			g.lockTTL = ttl
		}
	}
}

// WithRetry sets how many times a transient store failure is attempted and the initial delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(g *Gateway) {
		if attempts > 0 {
			g.attempts = attempts
		}
		g.delay = delay
	}
}

// WithLogger configures a logger for the Gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway creates a gateway over store.
func NewGateway(store ports.RecordStore, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		locks:    make(map[string]*lockEntry),
		lockTTL:  DefaultLockTTL,
		attempts: DefaultAttempts,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock entry.mu, and then call release(id) after unlocking.
func (g *Gateway) acquire(id string) *lockEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[id]
	if !exists {
		entry = &lockEntry{}
		g.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (g *Gateway) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, exists := g.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(g.locks, id)
	}
}

// Load returns the current record. Returns domain.ErrRecordNotFound when the
// conversation has none.
func (g *Gateway) Load(ctx context.Context, id string) (*domain.Record, error) {
	return retry.Do(ctx, g.policy("load record"), func(ctx context.Context) (*domain.Record, error) {
		return g.store.Get(ctx, id)
	})
}

// Commit applies patch to the stored record of a conversation.
//
// Commit is an upsert: a missing record starts from domain.NewRecord and gets the
// patch applied on top. When the stored record already
// reflects the patch nothing is written, so replaying a commit is harmless. A patch
// whose Expect step no longer matches fails with domain.ErrConflict, as does a write
// that loses the version race.
func (g *Gateway) Commit(ctx context.Context, id string, patch domain.Patch) (*domain.Record, error) {
	var out *domain.Record
	err := g.WithLock(ctx, id, func(ctx context.Context) error {
		rec, err := retry.Do(ctx, g.policy("commit record"), func(ctx context.Context) (*domain.Record, error) {
			return g.commit(ctx, id, patch)
		})
		out = rec
		return err
	})
	return out, err
}

func (g *Gateway) commit(ctx context.Context, id string, patch domain.Patch) (*domain.Record, error) {
	current, err := g.store.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		current = domain.NewRecord(id)
	case err != nil:
		return nil, err
	}

	next := patch.Apply(current)
	if current.Version > 0 && next.Equivalent(current) {
		return current, nil
	}
	if patch.Expect != nil && *patch.Expect != current.Step {
		return nil, fmt.Errorf("%w: expected step %s, record is at %s", domain.ErrConflict, *patch.Expect, current.Step)
	}
	if !next.Step.Valid() {
		return nil, fmt.Errorf("%w: step %d", domain.ErrInvalidTransition, next.Step)
	}

	if err := g.store.Put(ctx, next); err != nil {
		return nil, err
	}
	g.logger.Debug("Record committed",
		"conversation_id", id,
		"step", next.Step.String(),
		"version", next.Version,
		"fields", patch.Fields(),
	)
	return next, nil
}

// Delete removes the record of a conversation.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	return g.WithLock(ctx, id, func(ctx context.Context) error {
		return g.store.Delete(ctx, id)
	})
}

// List delegates to the store.
func (g *Gateway) List(ctx context.Context) ([]string, error) {
	return g.store.List(ctx)
}

// Store returns the underlying record store.
func (g *Gateway) Store() ports.RecordStore {
	return g.store
}

// WithLock executes fn while holding the lock for the conversation.
func (g *Gateway) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := g.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		g.release(id)
	}()

	if g.locker != nil {
		unlock, err := g.locker.Lock(ctx, id, g.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				g.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"conversation_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// policy retries everything but outcomes the store reports on purpose.
func (g *Gateway) policy(op string) retry.Policy {
	return retry.Policy{
		Op:       op,
		Attempts: g.attempts,
		Delay:    g.delay,
		Retryable: retry.Except(
			domain.ErrRecordNotFound,
			domain.ErrConflict,
			domain.ErrCodeExists,
			domain.ErrInvalidTransition,
		),
		OnRetry: func(err error, attempt int) {
			g.logger.Warn("Retrying store operation", "op", op, "attempt", attempt, "err", err)
		},
	}
}
