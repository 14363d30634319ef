// Package codes issues and redeems one-time activation codes.
package codes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/retry"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultAttempts bounds how many fresh codes Generate tries before giving up.
	DefaultAttempts = 5
)

var (
	// ErrGenerationExhausted is returned when every generated code collided with an existing one.
	ErrGenerationExhausted = errors.New("could not generate a unique activation code")
	// ErrEmptyPlan is returned when a code is requested without a plan.
	ErrEmptyPlan = errors.New("plan is required")
)

// DefaultRedeemable are the statuses a code may be redeemed from.
var DefaultRedeemable = []domain.Status{domain.StatusPending, domain.StatusUnused}

// Registry generates, confirms and redeems activation codes.
type Registry struct {
	store      ports.CodeStore
	redeemable []domain.Status
	attempts   int
	generate   func() (string, error)
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

// WithRedeemable sets the statuses from which a code can be redeemed.
// Deployments that only admit paid codes pass domain.StatusUnused alone.
func WithRedeemable(statuses ...domain.Status) Option {
	return func(r *Registry) {
		if len(statuses) > 0 {
			r.redeemable = statuses
		}
	}
}

// WithAttempts overrides DefaultAttempts.
func WithAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithGenerator replaces the random code source.
func WithGenerator(gen func() (string, error)) Option {
	return func(r *Registry) {
		r.generate = gen
	}
}

// WithClock overrides the clock used to stamp new codes.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger configures a logger for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry over store.
func NewRegistry(store ports.CodeStore, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		redeemable: DefaultRedeemable,
		attempts:   DefaultAttempts,
		generate:   NewCode,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewCode returns a random code of domain.CodeLength uppercase letters and digits.
func NewCode() (string, error) {
	var b strings.Builder
	b.Grow(domain.CodeLength)
	limit := big.NewInt(int64(len(alphabet)))
	for range domain.CodeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Generate mints a pending code for plan. Uniqueness is enforced by the store;
// a collision is retried with a fresh code.
func (r *Registry) Generate(ctx context.Context, plan string) (*domain.ActivationCode, error) {
	if strings.TrimSpace(plan) == "" {
		return nil, ErrEmptyPlan
	}

	policy := retry.Policy{
		Op:        "generate code",
		Attempts:  r.attempts,
		Retryable: retry.On(domain.ErrCodeExists),
		OnRetry: func(err error, attempt int) {
			r.logger.Debug("Activation code collision", "attempt", attempt)
		},
	}
	code, err := retry.Do(ctx, policy, func(ctx context.Context) (*domain.ActivationCode, error) {
		value, err := r.generate()
		if err != nil {
			return nil, err
		}
		c := &domain.ActivationCode{
			Code:      value,
			Plan:      plan,
			Status:    domain.StatusPending,
			CreatedAt: r.now(),
		}
		if err := r.store.InsertCode(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return nil, fmt.Errorf("%w: %w", ErrGenerationExhausted, exhausted)
	}
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	r.logger.Info("Activation code generated", "plan", plan)
	return code, nil
}

// Redeem binds code to a conversation. Unknown codes, codes in a status that is not
// redeemable and codes bound to another conversation all yield domain.ErrCodeUnavailable.
func (r *Registry) Redeem(ctx context.Context, conversationID, code string) (*domain.ActivationCode, error) {
	code = Normalize(code)
	bound, err := r.store.BindCode(ctx, code, conversationID, r.redeemable)
	if err != nil {
		if errors.Is(err, domain.ErrCodeUnavailable) || errors.Is(err, domain.ErrCodeNotFound) {
			return nil, domain.ErrCodeUnavailable
		}
		return nil, fmt.Errorf("redeem code: %w", err)
	}
	r.logger.Info("Activation code redeemed", "conversation_id", conversationID, "plan", bound.Plan)
	return bound, nil
}

// Confirm marks a pending code as paid. Confirming twice is a no-op, and so is
// confirming a code whose dialogue already completed.
func (r *Registry) Confirm(ctx context.Context, code string) (*domain.ActivationCode, error) {
	code = Normalize(code)
	c, err := r.store.TransitionCode(ctx, code, domain.StatusPending, domain.StatusUnused)
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, lookupErr := r.store.GetCode(ctx, code)
		if lookupErr == nil && current.Status == domain.StatusUsed {
			return current, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("confirm code: %w", err)
	}
	return c, nil
}

// Lookup returns a code without changing it.
func (r *Registry) Lookup(ctx context.Context, code string) (*domain.ActivationCode, error) {
	return r.store.GetCode(ctx, Normalize(code))
}

// Normalize trims and upper-cases user supplied codes.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
