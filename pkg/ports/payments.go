package ports

import "context"

// CheckoutRequest describes a hosted checkout for one plan.
type CheckoutRequest struct {
	PlanID      string
	ProductName string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession is the processor's view of a checkout.
type CheckoutSession struct {
	ID            string
	Metadata      map[string]string
	CustomerEmail string
	Paid          bool
}

// PaymentProcessor creates and retrieves hosted checkout sessions.
type PaymentProcessor interface {
	// CreateCheckoutSession returns the processor session ID.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)

	// RetrieveSession returns domain.ErrSessionNotFound if the session does not exist.
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}
