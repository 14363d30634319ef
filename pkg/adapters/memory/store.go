package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/vellora/pkg/domain"
)

// Store implements ports.Store in memory.
// Safe for concurrent use. Intended for tests and single-process development.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
	codes   map[string]*domain.ActivationCode
	now     func() time.Time
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*domain.Record),
		codes:   make(map[string]*domain.ActivationCode),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get retrieves a copy of the record so callers can't mutate store state by pointer.
func (s *Store) Get(ctx context.Context, conversationID string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[conversationID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Put stores a copy of rec if its version matches the stored one.
func (s *Store) Put(ctx context.Context, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.ConversationID]
	switch {
	case rec.Version == 0 && exists:
		return domain.ErrConflict
	case rec.Version != 0 && (!exists || current.Version != rec.Version):
		return domain.ErrConflict
	}

	if rec.Code != "" {
		for id, other := range s.records {
			if id != rec.ConversationID && other.Code == rec.Code {
				return domain.ErrCodeExists
			}
		}
	}

	now := s.now()
	if exists {
		rec.CreatedAt = current.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Version++

	if completes(rec) {
		if code, ok := s.codes[rec.Code]; ok && code.ConversationID == rec.ConversationID && code.Status != domain.StatusUsed {
			code.Status = domain.StatusUsed
			code.UsedAt = &now
		}
	}

	s.records[rec.ConversationID] = rec.Clone()
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conversationID)
	return nil
}

// List returns the stored conversation IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// InsertCode stores a new activation code.
func (s *Store) InsertCode(ctx context.Context, code *domain.ActivationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return domain.ErrCodeExists
	}
	c := code.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.codes[c.Code] = c
	return nil
}

// GetCode looks a code up.
func (s *Store) GetCode(ctx context.Context, code string) (*domain.ActivationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, domain.ErrCodeNotFound
	}
	return c.Clone(), nil
}

// BindCode binds a code to a conversation under the store lock.
func (s *Store) BindCode(ctx context.Context, code, conversationID string, redeemable []domain.Status) (*domain.ActivationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok || !c.Redeemable(conversationID, redeemable) {
		return nil, domain.ErrCodeUnavailable
	}
	if c.ConversationID == "" {
		now := s.now()
		c.ConversationID = conversationID
		c.BoundAt = &now
	}
	return c.Clone(), nil
}

// TransitionCode moves a code along its status lifecycle.
func (s *Store) TransitionCode(ctx context.Context, code string, from, to domain.Status) (*domain.ActivationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, domain.ErrCodeNotFound
	}
	if c.Status == to {
		return c.Clone(), nil
	}
	if c.Status != from || !from.Precedes(to) {
		return nil, domain.ErrInvalidTransition
	}
	c.Status = to
	if to == domain.StatusUsed {
		now := s.now()
		c.UsedAt = &now
	}
	return c.Clone(), nil
}

// completes reports whether a write finalises the dialogue of a bound conversation.
func completes(rec *domain.Record) bool {
	return rec.Code != "" && rec.Status == domain.StatusUsed && rec.CompletedAt != nil
}
