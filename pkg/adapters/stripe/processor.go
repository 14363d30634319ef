// Package stripe implements ports.PaymentProcessor with Stripe Checkout and
// verifies Stripe webhook deliveries.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// Processor talks to the Stripe API.
type Processor struct {
	api *client.API
}

// New creates a processor authenticated with secretKey.
func New(secretKey string) *Processor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Processor{api: api}
}

// NewWithBackends creates a processor on custom backends, e.g. one pointing at a test server.
func NewWithBackends(secretKey string, backends *stripego.Backends) *Processor {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Processor{api: api}
}

// CreateCheckoutSession opens a one-off card payment for the requested plan.
func (p *Processor) CreateCheckoutSession(ctx context.Context, req ports.CheckoutRequest) (string, error) {
	params := &stripego.CheckoutSessionParams{
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:         stripego.String(req.SuccessURL),
		CancelURL:          stripego.String(req.CancelURL),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			Quantity: stripego.Int64(1),
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(req.Currency),
				UnitAmount: stripego.Int64(req.AmountMinor),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(req.ProductName),
				},
			},
		}},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return s.ID, nil
}

// RetrieveSession fetches a checkout session.
func (p *Processor) RetrieveSession(ctx context.Context, sessionID string) (*ports.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return toSession(s), nil
}

func toSession(s *stripego.CheckoutSession) *ports.CheckoutSession {
	out := &ports.CheckoutSession{
		ID:       s.ID,
		Metadata: s.Metadata,
		Paid:     s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if out.CustomerEmail == "" {
		out.CustomerEmail = s.CustomerEmail
	}
	return out
}
