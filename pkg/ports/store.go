package ports

import (
	"context"

	"github.com/aretw0/vellora/pkg/domain"
)

// RecordStore persists conversation records.
// Writes are conditional on the record version, which makes the store the
// serialisation point for concurrent handlers of the same conversation.
type RecordStore interface {
	// Get retrieves the record of a conversation.
	// Returns domain.ErrRecordNotFound if the conversation has no record.
	Get(ctx context.Context, conversationID string) (*domain.Record, error)

	// Put creates (rec.Version == 0) or updates (rec.Version == stored version) a record.
	// On success rec.Version, rec.CreatedAt and rec.UpdatedAt are refreshed.
	// Returns domain.ErrConflict when the version guard fails and domain.ErrCodeExists
	// when another record already holds rec.Code.
	// When rec completes the dialogue (status used, CompletedAt set) the bound
	// activation code is marked used in the same write.
	Put(ctx context.Context, rec *domain.Record) error

	// Delete removes the record of a conversation.
	Delete(ctx context.Context, conversationID string) error

	// List returns the conversation IDs with a stored record.
	List(ctx context.Context) ([]string, error)
}

// CodeStore persists activation codes. Code uniqueness is enforced here, never by callers.
type CodeStore interface {
	// InsertCode stores a new code. Returns domain.ErrCodeExists on a uniqueness violation.
	InsertCode(ctx context.Context, code *domain.ActivationCode) error

	// GetCode looks a code up. Returns domain.ErrCodeNotFound if it does not exist.
	GetCode(ctx context.Context, code string) (*domain.ActivationCode, error)

	// BindCode atomically binds a code to a conversation. It succeeds when the code is
	// unbound with one of the redeemable statuses, or already bound to the same
	// conversation. Every other case, including losing a race, returns
	// domain.ErrCodeUnavailable.
	BindCode(ctx context.Context, code, conversationID string, redeemable []domain.Status) (*domain.ActivationCode, error)

	// TransitionCode moves a code from one status to the next one. A code already in
	// the target status is returned unchanged. Returns domain.ErrInvalidTransition when
	// the code is in any other status and domain.ErrCodeNotFound when it does not exist.
	TransitionCode(ctx context.Context, code string, from, to domain.Status) (*domain.ActivationCode, error)
}

// Store is the durable system of record.
type Store interface {
	RecordStore
	CodeStore
}
