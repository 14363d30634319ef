package middleware

import (
	"context"
	"errors"

	"github.com/aretw0/vellora/pkg/credential"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// ErrPlaintextCredential is returned when a record carries a credential that is not a hash.
var ErrPlaintextCredential = errors.New("refusing to store a credential that is not hashed")

type credentialGuard struct {
	ports.Store
}

// NewCredentialGuard creates a middleware that rejects writes whose
// CredentialHash is not a bcrypt hash. Nothing is written in that case.
func NewCredentialGuard() Middleware {
	return func(next ports.Store) ports.Store {
		return &credentialGuard{Store: next}
	}
}

func (m *credentialGuard) Put(ctx context.Context, rec *domain.Record) error {
	if rec.CredentialHash != "" && !credential.IsHash(rec.CredentialHash) {
		return ErrPlaintextCredential
	}
	return m.Store.Put(ctx, rec)
}
