package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")
	redeemable := []domain.Status{domain.StatusPending, domain.StatusUnused}

	newCode := func(t *testing.T, code string) *domain.ActivationCode {
		t.Helper()
		c := &domain.ActivationCode{
			Code:      code,
			Plan:      "grower",
			Status:    domain.StatusPending,
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.InsertCode(ctx, c))
		return c
	}

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("Put and Get", func(t *testing.T) {
		id := "put-" + suffix
		done := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		rec := domain.NewRecord(id)
		rec.Step = domain.StepComplete
		rec.Status = domain.StatusUnused
		rec.Plan = "grower"
		rec.Name = "Jo Lin"
		rec.Handle = "jolin_"
		rec.CredentialHash = "$2a$10$abcdefghijklmnopqrstuv"
		rec.Targeting = &domain.Targeting{Kind: domain.TargetHashtags, Items: []string{"a", "b", "c"}}
		rec.UnfollowInactive = domain.Ptr(true)
		rec.ActiveHours = "09:00-17:00"
		rec.CompletedAt = &done
		rec.LastMessageID = "msg-41"

		require.NoError(t, store.Put(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)
		assert.False(t, rec.UpdatedAt.IsZero())

		loaded, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Equivalent(loaded), "loaded %+v", loaded)
		assert.Equal(t, "msg-41", loaded.LastMessageID)
		assert.Equal(t, int64(1), loaded.Version)

		// Mutating the loaded copy must not leak into the store.
		loaded.Targeting.Items[0] = "mutated"
		again, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a", again.Targeting.Items[0])
	})

	t.Run("Version Guard", func(t *testing.T) {
		id := "guard-" + suffix
		rec := domain.NewRecord(id)
		require.NoError(t, store.Put(ctx, rec))

		dup := domain.NewRecord(id)
		assert.ErrorIs(t, store.Put(ctx, dup), domain.ErrConflict, "create over an existing record")

		first, err := store.Get(ctx, id)
		require.NoError(t, err)
		second := first.Clone()

		first.Name = "First Writer"
		first.LastMessageID = "m-2"
		require.NoError(t, store.Put(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		second.Name = "Second Writer"
		assert.ErrorIs(t, store.Put(ctx, second), domain.ErrConflict, "stale version")

		loaded, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "First Writer", loaded.Name)
		assert.Equal(t, "m-2", loaded.LastMessageID)
	})

	t.Run("Delete and List", func(t *testing.T) {
		a, b := "list-a-"+suffix, "list-b-"+suffix
		require.NoError(t, store.Put(ctx, domain.NewRecord(a)))
		require.NoError(t, store.Put(ctx, domain.NewRecord(b)))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, a)
		assert.Contains(t, ids, b)

		require.NoError(t, store.Delete(ctx, a))
		_, err = store.Get(ctx, a)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, a)
	})

	t.Run("Code Uniqueness", func(t *testing.T) {
		code := "U" + suffix[len(suffix)-5:]
		newCode(t, code)
		err := store.InsertCode(ctx, &domain.ActivationCode{Code: code, Plan: "bloomer", Status: domain.StatusPending})
		assert.ErrorIs(t, err, domain.ErrCodeExists)

		got, err := store.GetCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, "grower", got.Plan)
		assert.Equal(t, domain.StatusPending, got.Status)

		_, err = store.GetCode(ctx, "NOPE00")
		assert.ErrorIs(t, err, domain.ErrCodeNotFound)
	})

	t.Run("Bind Code", func(t *testing.T) {
		code := "B" + suffix[len(suffix)-5:]
		newCode(t, code)

		bound, err := store.BindCode(ctx, code, "conv-1", redeemable)
		require.NoError(t, err)
		assert.Equal(t, "conv-1", bound.ConversationID)
		assert.NotNil(t, bound.BoundAt)

		again, err := store.BindCode(ctx, code, "conv-1", redeemable)
		require.NoError(t, err, "rebinding to the same conversation is idempotent")
		assert.Equal(t, "conv-1", again.ConversationID)

		_, err = store.BindCode(ctx, code, "conv-2", redeemable)
		assert.ErrorIs(t, err, domain.ErrCodeUnavailable)

		_, err = store.BindCode(ctx, "ZZZZZZ", "conv-1", redeemable)
		assert.ErrorIs(t, err, domain.ErrCodeUnavailable)
	})

	t.Run("Bind Code Respects Redeemable Statuses", func(t *testing.T) {
		code := "S" + suffix[len(suffix)-5:]
		newCode(t, code)
		_, err := store.BindCode(ctx, code, "conv-1", []domain.Status{domain.StatusUnused})
		assert.ErrorIs(t, err, domain.ErrCodeUnavailable)
	})

	t.Run("Concurrent Bind Has One Winner", func(t *testing.T) {
		code := "C" + suffix[len(suffix)-5:]
		newCode(t, code)

		const contenders = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			losers  int
		)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := store.BindCode(ctx, code, id, redeemable)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, id)
					return
				}
				assert.ErrorIs(t, err, domain.ErrCodeUnavailable)
				losers++
			}(fmt.Sprintf("racer-%d", i))
		}
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, contenders-1, losers)
		got, err := store.GetCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, winners[0], got.ConversationID)
	})

	t.Run("Transition Code", func(t *testing.T) {
		code := "T" + suffix[len(suffix)-5:]
		newCode(t, code)

		got, err := store.TransitionCode(ctx, code, domain.StatusPending, domain.StatusUnused)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUnused, got.Status)

		got, err = store.TransitionCode(ctx, code, domain.StatusPending, domain.StatusUnused)
		require.NoError(t, err, "repeating a transition is idempotent")
		assert.Equal(t, domain.StatusUnused, got.Status)

		_, err = store.TransitionCode(ctx, code, domain.StatusUsed, domain.StatusPending)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = store.TransitionCode(ctx, "NOPE00", domain.StatusPending, domain.StatusUnused)
		assert.ErrorIs(t, err, domain.ErrCodeNotFound)
	})

	t.Run("Completion Marks Code Used", func(t *testing.T) {
		code := "F" + suffix[len(suffix)-5:]
		id := "final-" + suffix
		newCode(t, code)
		_, err := store.BindCode(ctx, code, id, redeemable)
		require.NoError(t, err)

		rec := domain.NewRecord(id)
		rec.Code = code
		rec.Plan = "grower"
		require.NoError(t, store.Put(ctx, rec))

		done := time.Now().UTC()
		rec.Step = domain.StepComplete
		rec.Status = domain.StatusUsed
		rec.CompletedAt = &done
		require.NoError(t, store.Put(ctx, rec))

		got, err := store.GetCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUsed, got.Status)
		assert.NotNil(t, got.UsedAt)
	})

	t.Run("Record Code Is Unique", func(t *testing.T) {
		code := "R" + suffix[len(suffix)-5:]
		owner, other := "owner-"+suffix, "other-"+suffix
		newCode(t, code)
		_, err := store.BindCode(ctx, code, owner, redeemable)
		require.NoError(t, err)

		rec := domain.NewRecord(owner)
		rec.Code = code
		require.NoError(t, store.Put(ctx, rec))

		thief := domain.NewRecord(other)
		thief.Code = code
		assert.ErrorIs(t, store.Put(ctx, thief), domain.ErrCodeExists)
	})
}
