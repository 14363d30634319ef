package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

type cacheEntry struct {
	rec     *domain.Record
	expires time.Time
}

type cacheMiddleware struct {
	ports.Store

	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

// NewCache creates a read-through record cache. Entries live for ttl and are
// dropped on every write, conflict and delete, so a stale entry can at worst
// cost one version conflict. Codes are never cached.
func NewCache(ttl time.Duration) Middleware {
	return newCache(ttl, time.Now)
}

func newCache(ttl time.Duration, now func() time.Time) Middleware {
	return func(next ports.Store) ports.Store {
		if ttl <= 0 {
			return next
		}
		return &cacheMiddleware{
			Store:   next,
			ttl:     ttl,
			now:     now,
			entries: make(map[string]cacheEntry),
		}
	}
}

func (m *cacheMiddleware) Get(ctx context.Context, conversationID string) (*domain.Record, error) {
	if rec, ok := m.lookup(conversationID); ok {
		return rec, nil
	}
	rec, err := m.Store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m.store(rec)
	return rec, nil
}

func (m *cacheMiddleware) Put(ctx context.Context, rec *domain.Record) error {
	m.evict(rec.ConversationID)
	if err := m.Store.Put(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			m.evict(rec.ConversationID)
		}
		return err
	}
	m.store(rec)
	return nil
}

func (m *cacheMiddleware) Delete(ctx context.Context, conversationID string) error {
	m.evict(conversationID)
	return m.Store.Delete(ctx, conversationID)
}

func (m *cacheMiddleware) lookup(id string) (*domain.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, id)
		return nil, false
	}
	return e.rec.Clone(), true
}

func (m *cacheMiddleware) store(rec *domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	m.entries[rec.ConversationID] = cacheEntry{rec: rec.Clone(), expires: now.Add(m.ttl)}
}

func (m *cacheMiddleware) evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// sweep drops expired entries at most once per ttl. Caller holds mu.
func (m *cacheMiddleware) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.ttl {
		return
	}
	m.lastSweep = now
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
		}
	}
}
