package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/credential"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/persistence/middleware"
)

func TestCredentialGuard(t *testing.T) {
	underlying := memory.NewStore()
	guarded := middleware.NewCredentialGuard()(underlying)
	ctx := context.Background()

	t.Run("rejects plaintext", func(t *testing.T) {
		rec := sampleRecord("guard-plain")
		rec.CredentialHash = "hunter2hunter2"

		err := guarded.Put(ctx, rec)
		assert.ErrorIs(t, err, middleware.ErrPlaintextCredential)

		_, err = underlying.Get(ctx, "guard-plain")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound, "nothing may be written")
	})

	t.Run("accepts hashes", func(t *testing.T) {
		hash, err := credential.NewHasher(bcrypt.MinCost).Hash("hunter2hunter2")
		require.NoError(t, err)

		rec := sampleRecord("guard-hash")
		rec.CredentialHash = hash
		require.NoError(t, guarded.Put(ctx, rec))

		loaded, err := guarded.Get(ctx, "guard-hash")
		require.NoError(t, err)
		assert.Equal(t, hash, loaded.CredentialHash)
	})

	t.Run("accepts records without credential", func(t *testing.T) {
		require.NoError(t, guarded.Put(ctx, sampleRecord("guard-none")))
	})
}
