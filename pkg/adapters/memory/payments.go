package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// Payments implements ports.PaymentProcessor without talking to a processor.
// Sessions start unpaid; MarkPaid simulates the customer completing checkout.
type Payments struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*ports.CheckoutSession
	requests map[string]ports.CheckoutRequest

	// FailRetrieve makes RetrieveSession fail with the given error.
	FailRetrieve error
}

// NewPayments creates an empty fake processor.
func NewPayments() *Payments {
	return &Payments{
		sessions: make(map[string]*ports.CheckoutSession),
		requests: make(map[string]ports.CheckoutRequest),
	}
}

// CreateCheckoutSession records the request and returns a sequential session ID.
func (p *Payments) CreateCheckoutSession(ctx context.Context, req ports.CheckoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := fmt.Sprintf("cs_test_%04d", p.seq)
	p.sessions[id] = &ports.CheckoutSession{ID: id, Metadata: maps.Clone(req.Metadata)}
	p.requests[id] = req
	return id, nil
}

// RetrieveSession returns a copy of the session.
func (p *Payments) RetrieveSession(ctx context.Context, sessionID string) (*ports.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailRetrieve != nil {
		return nil, p.FailRetrieve
	}
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := *s
	out.Metadata = maps.Clone(s.Metadata)
	return &out, nil
}

// MarkPaid flags a session as paid by email.
func (p *Payments) MarkPaid(sessionID, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.Paid = true
	s.CustomerEmail = email
	return nil
}

// Request returns the checkout request that created a session.
func (p *Payments) Request(sessionID string) (ports.CheckoutRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[sessionID]
	return req, ok
}
