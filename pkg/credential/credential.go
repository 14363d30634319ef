// Package credential hashes account secrets collected during onboarding.
package credential

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrMismatch is returned by Verify when the secret does not match the hash.
var ErrMismatch = errors.New("credential does not match")

// Hasher hashes secrets with bcrypt.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost is out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	// bcrypt ignores bytes past 72; reject instead of silently truncating.
	if len(secret) > 72 {
		return "", fmt.Errorf("hash credential: %w", bcrypt.ErrPasswordTooLong)
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(out), nil
}

// Verify checks secret against a hash produced by Hash.
func (h *Hasher) Verify(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}

// IsHash reports whether v looks like a bcrypt hash.
func IsHash(v string) bool {
	_, err := bcrypt.Cost([]byte(v))
	return err == nil
}
