package middleware

import (
	"context"
	"time"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// Observer receives the outcome of every store operation.
type Observer interface {
	ObserveStore(operation string, err error, elapsed time.Duration)
}

type instrumented struct {
	next     ports.Store
	observer Observer
}

// NewInstrumentation creates a middleware that reports the duration and
// outcome of each store call to observer.
func NewInstrumentation(observer Observer) Middleware {
	return func(next ports.Store) ports.Store {
		return &instrumented{next: next, observer: observer}
	}
}

func (m *instrumented) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.observer.ObserveStore(op, err, time.Since(start))
	return err
}

func (m *instrumented) Get(ctx context.Context, conversationID string) (rec *domain.Record, err error) {
	err = m.timed("get", func() error {
		rec, err = m.next.Get(ctx, conversationID)
		return err
	})
	return rec, err
}

func (m *instrumented) Put(ctx context.Context, rec *domain.Record) error {
	return m.timed("put", func() error {
		return m.next.Put(ctx, rec)
	})
}

func (m *instrumented) Delete(ctx context.Context, conversationID string) error {
	return m.timed("delete", func() error {
		return m.next.Delete(ctx, conversationID)
	})
}

func (m *instrumented) List(ctx context.Context) (ids []string, err error) {
	err = m.timed("list", func() error {
		ids, err = m.next.List(ctx)
		return err
	})
	return ids, err
}

func (m *instrumented) InsertCode(ctx context.Context, code *domain.ActivationCode) error {
	return m.timed("insert_code", func() error {
		return m.next.InsertCode(ctx, code)
	})
}

func (m *instrumented) GetCode(ctx context.Context, code string) (out *domain.ActivationCode, err error) {
	err = m.timed("get_code", func() error {
		out, err = m.next.GetCode(ctx, code)
		return err
	})
	return out, err
}

func (m *instrumented) BindCode(ctx context.Context, code, conversationID string, redeemable []domain.Status) (out *domain.ActivationCode, err error) {
	err = m.timed("bind_code", func() error {
		out, err = m.next.BindCode(ctx, code, conversationID, redeemable)
		return err
	})
	return out, err
}

func (m *instrumented) TransitionCode(ctx context.Context, code string, from, to domain.Status) (out *domain.ActivationCode, err error) {
	err = m.timed("transition_code", func() error {
		out, err = m.next.TransitionCode(ctx, code, from, to)
		return err
	})
	return out, err
}
