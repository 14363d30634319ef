// Package redis implements the durable store and the distributed locker on Redis.
//
// Conditional writes use WATCH/MULTI: a transaction whose watched keys changed
// fails and is reported as a version conflict or a lost redemption race.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/vellora/pkg/domain"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "vellora:"

// casAttempts bounds optimistic retries of code status transitions.
const casAttempts = 3

// Store implements ports.Store using Redis.
//
// Layout:
//
//	<prefix>record:<conversation>  record JSON
//	<prefix>records                sorted set of conversation IDs
//	<prefix>code:<code>            activation code JSON
//	<prefix>claim:<code>           conversation whose record holds the code
type Store struct {
	client *backend.Client
	prefix string
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Redis store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) recordKey(id string) string {
	return s.prefix + "record:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "records"
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) claimKey(code string) string {
	return s.prefix + "claim:" + code
}

// Get retrieves a record.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	return getRecord(ctx, s.client, s.recordKey(id))
}

// Put writes rec if its version matches the stored one.
func (s *Store) Put(ctx context.Context, rec *domain.Record) error {
	key := s.recordKey(rec.ConversationID)
	keys := []string{key}
	if rec.Code != "" {
		keys = append(keys, s.claimKey(rec.Code), s.codeKey(rec.Code))
	}

	next := rec.Clone()
	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		current, err := getRecord(ctx, tx, key)
		exists := err == nil
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		switch {
		case next.Version == 0 && exists:
			return domain.ErrConflict
		case next.Version != 0 && (!exists || current.Version != next.Version):
			return domain.ErrConflict
		}

		var code *domain.ActivationCode
		if next.Code != "" {
			owner, err := tx.Get(ctx, s.claimKey(next.Code)).Result()
			if err != nil && !errors.Is(err, backend.Nil) {
				return fmt.Errorf("failed to read code claim: %w", err)
			}
			if owner != "" && owner != next.ConversationID {
				return domain.ErrCodeExists
			}
			if completes(next) {
				code, err = getCode(ctx, tx, s.codeKey(next.Code))
				if err != nil && !errors.Is(err, domain.ErrCodeNotFound) {
					return err
				}
			}
		}

		now := s.now()
		if exists {
			next.CreatedAt = current.CreatedAt
		} else {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		next.Version++

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: 0, Member: next.ConversationID})
			if exists && current.Code != "" && current.Code != next.Code {
				pipe.Del(ctx, s.claimKey(current.Code))
			}
			if next.Code != "" {
				pipe.Set(ctx, s.claimKey(next.Code), next.ConversationID, 0)
			}
			if code != nil && code.ConversationID == next.ConversationID && code.Status != domain.StatusUsed {
				code.Status = domain.StatusUsed
				code.UsedAt = &now
				if raw, err := json.Marshal(code); err == nil {
					pipe.Set(ctx, s.codeKey(code.Code), raw, 0)
				}
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, backend.TxFailedErr) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}

	rec.Version = next.Version
	rec.CreatedAt = next.CreatedAt
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes a record and releases its code claim.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.recordKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if rec.Code != "" {
		pipe.Del(ctx, s.claimKey(rec.Code))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns the stored conversation IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return ids, nil
}

// InsertCode stores a new code with SETNX.
func (s *Store) InsertCode(ctx context.Context, code *domain.ActivationCode) error {
	c := code.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal code: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.codeKey(c.Code), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert code: %w", err)
	}
	if !ok {
		return domain.ErrCodeExists
	}
	return nil
}

// GetCode looks a code up.
func (s *Store) GetCode(ctx context.Context, code string) (*domain.ActivationCode, error) {
	return getCode(ctx, s.client, s.codeKey(code))
}

// BindCode binds a code to a conversation. A concurrent writer on the same code
// makes the transaction fail, so at most one conversation wins.
func (s *Store) BindCode(ctx context.Context, code, conversationID string, redeemable []domain.Status) (*domain.ActivationCode, error) {
	key := s.codeKey(code)
	var out *domain.ActivationCode
	err := s.client.Watch(ctx, func(tx *backend.Tx) error {
		c, err := getCode(ctx, tx, key)
		if errors.Is(err, domain.ErrCodeNotFound) {
			return domain.ErrCodeUnavailable
		}
		if err != nil {
			return err
		}
		if !c.Redeemable(conversationID, redeemable) {
			return domain.ErrCodeUnavailable
		}
		out = c
		if c.ConversationID != "" {
			return nil
		}

		now := s.now()
		c.ConversationID = conversationID
		c.BoundAt = &now
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal code: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, backend.TxFailedErr) {
		// Someone else wrote the code first; only a rebind of the same conversation survives.
		c, getErr := getCode(ctx, s.client, key)
		if getErr == nil && c.ConversationID == conversationID {
			return c, nil
		}
		return nil, domain.ErrCodeUnavailable
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionCode moves a code along its status lifecycle.
func (s *Store) TransitionCode(ctx context.Context, code string, from, to domain.Status) (*domain.ActivationCode, error) {
	key := s.codeKey(code)
	var out *domain.ActivationCode
	for range casAttempts {
		err := s.client.Watch(ctx, func(tx *backend.Tx) error {
			c, err := getCode(ctx, tx, key)
			if err != nil {
				return err
			}
			out = c
			if c.Status == to {
				return nil
			}
			if c.Status != from || !from.Precedes(to) {
				return domain.ErrInvalidTransition
			}
			c.Status = to
			if to == domain.StatusUsed {
				now := s.now()
				c.UsedAt = &now
			}
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to marshal code: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, domain.ErrConflict
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// getter is satisfied by both the client and a watching transaction.
type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func getRecord(ctx context.Context, c getter, key string) (*domain.Record, error) {
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record from redis: %w", err)
	}
	var rec domain.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func getCode(ctx context.Context, c getter, key string) (*domain.ActivationCode, error) {
	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get code from redis: %w", err)
	}
	var code domain.ActivationCode
	if err := json.Unmarshal(val, &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code: %w", err)
	}
	return &code, nil
}

// completes reports whether a write finalises the dialogue of a bound conversation.
func completes(rec *domain.Record) bool {
	return rec.Code != "" && rec.Status == domain.StatusUsed && rec.CompletedAt != nil
}
