package stripe

import (
	"encoding/json"
	"errors"
	"fmt"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/aretw0/vellora/pkg/ports"
)

// EventCheckoutCompleted is the only event type the webhook acts upon.
const EventCheckoutCompleted = "checkout.session.completed"

// ErrInvalidSignature is returned for payloads that fail signature verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook verifies and decodes Stripe webhook deliveries.
type Webhook struct {
	secret string
}

// NewWebhook creates a verifier for the endpoint signing secret.
func NewWebhook(secret string) *Webhook {
	return &Webhook{secret: secret}
}

// CompletedSession verifies payload and returns the checkout session of a
// checkout.session.completed event. Other event types return (nil, nil).
func (w *Webhook) CompletedSession(payload []byte, signature string) (*ports.CheckoutSession, error) {
	event, err := webhook.ConstructEvent(payload, signature, w.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if event.Type != EventCheckoutCompleted {
		return nil, nil
	}

	var s stripego.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	return toSession(&s), nil
}
