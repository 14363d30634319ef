package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/retry"
)

// ErrActivationNotFound is returned when a checkout session carries no known activation code.
var ErrActivationNotFound = errors.New("no activation found")

// LookupError reports a payment session that could not be read from the
// processor. It matches ErrActivationNotFound so callers never treat the
// failure as a found activation; the cause stays reachable with errors.As.
type LookupError struct {
	CorrelationID string
	Err           error
}

func (e *LookupError) Error() string { return ErrActivationNotFound.Error() }

func (e *LookupError) Unwrap() error { return e.Err }

// Is matches ErrActivationNotFound.
func (e *LookupError) Is(target error) bool { return target == ErrActivationNotFound }

// CodeIssuer is the part of the code registry billing needs.
type CodeIssuer interface {
	Generate(ctx context.Context, plan string) (*domain.ActivationCode, error)
	Confirm(ctx context.Context, code string) (*domain.ActivationCode, error)
	Lookup(ctx context.Context, code string) (*domain.ActivationCode, error)
}

// Checkout is a started purchase.
type Checkout struct {
	SessionID string `json:"id"`
	Code      string `json:"-"`
	Plan      string `json:"-"`
}

// Service coordinates plans, codes and the payment processor.
type Service struct {
	codes     CodeIssuer
	payments  ports.PaymentProcessor
	catalogue Catalogue
	publicURL string
	attempts  int
	logger    *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithCatalogue replaces DefaultCatalogue.
func WithCatalogue(c Catalogue) Option {
	return func(s *Service) {
		s.catalogue = c
	}
}

// WithPublicURL sets the base URL the processor redirects customers to.
func WithPublicURL(u string) Option {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(u, "/")
	}
}

// WithAttempts bounds retries of idempotent processor calls.
func WithAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a billing service.
func NewService(codes CodeIssuer, payments ports.PaymentProcessor, opts ...Option) *Service {
	s := &Service{
		codes:     codes,
		payments:  payments,
		catalogue: DefaultCatalogue(),
		publicURL: "http://localhost:8080",
		attempts:  3,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalogue returns the plans on sale.
func (s *Service) Catalogue() Catalogue {
	return s.catalogue
}

// CreateCheckout mints a pending code for planID and opens a checkout session
// carrying the code in its metadata.
func (s *Service) CreateCheckout(ctx context.Context, planID string) (*Checkout, error) {
	plan, err := s.catalogue.Lookup(planID)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Generate(ctx, plan.ID)
	if err != nil {
		return nil, err
	}

	success := s.publicURL + "/setup?" + url.Values{"code": {code.Code}}.Encode() + "&session_id={CHECKOUT_SESSION_ID}"
	id, err := s.payments.CreateCheckoutSession(ctx, ports.CheckoutRequest{
		PlanID:      plan.ID,
		ProductName: plan.Name,
		AmountMinor: plan.AmountMinor,
		Currency:    plan.Currency,
		SuccessURL:  success,
		CancelURL:   s.publicURL + "/cancel",
		Metadata: map[string]string{
			domain.MetadataSetupCode: code.Code,
			domain.MetadataPlan:      plan.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("Checkout created", "plan", plan.ID, "session_id", id)
	return &Checkout{SessionID: id, Code: code.Code, Plan: plan.ID}, nil
}

// FetchActivation returns the code bought in a checkout session. A paid session
// also confirms the code.
func (s *Service) FetchActivation(ctx context.Context, sessionID string) (*domain.ActivationCode, error) {
	if sessionID == "" {
		return nil, ErrActivationNotFound
	}
	session, err := s.retrieve(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		corrID := uuid.NewString()
		s.logger.Error("Payment session lookup failed",
			"session_id", sessionID,
			"correlation_id", corrID,
			"err", err,
		)
		return nil, &LookupError{CorrelationID: corrID, Err: err}
	}
	if session.Paid {
		return s.ConfirmPayment(ctx, session)
	}
	return s.lookup(ctx, session)
}

// ConfirmPayment moves the session's code from pending to unused.
// It is safe to call more than once for the same session.
func (s *Service) ConfirmPayment(ctx context.Context, session *ports.CheckoutSession) (*domain.ActivationCode, error) {
	code := session.Metadata[domain.MetadataSetupCode]
	if code == "" {
		return nil, ErrActivationNotFound
	}
	confirmed, err := s.codes.Confirm(ctx, code)
	if errors.Is(err, domain.ErrCodeNotFound) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment confirmed",
		"session_id", session.ID,
		"plan", confirmed.Plan,
		"has_email", session.CustomerEmail != "",
	)
	return confirmed, nil
}

func (s *Service) lookup(ctx context.Context, session *ports.CheckoutSession) (*domain.ActivationCode, error) {
	code := session.Metadata[domain.MetadataSetupCode]
	if code == "" {
		return nil, ErrActivationNotFound
	}
	c, err := s.codes.Lookup(ctx, code)
	if errors.Is(err, domain.ErrCodeNotFound) {
		return nil, ErrActivationNotFound
	}
	return c, err
}

func (s *Service) retrieve(ctx context.Context, sessionID string) (*ports.CheckoutSession, error) {
	return retry.Do(ctx, retry.Policy{
		Op:        "retrieve checkout session",
		Attempts:  s.attempts,
		Retryable: retry.Except(domain.ErrSessionNotFound),
		OnRetry: func(err error, attempt int) {
			s.logger.Warn("Retrying payment processor", "attempt", attempt, "err", err)
		},
	}, func(ctx context.Context) (*ports.CheckoutSession, error) {
		return s.payments.RetrieveSession(ctx, sessionID)
	})
}
