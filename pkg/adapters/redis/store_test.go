package redis_test

import (
	"context"
	"testing"

	"github.com/aretw0/vellora/pkg/adapters/redis"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, domain.NewRecord("my-conv")))
	require.NoError(t, store.InsertCode(ctx, &domain.ActivationCode{Code: "ABC123", Plan: "grower", Status: domain.StatusPending}))

	assert.True(t, mr.Exists("custom:app:record:my-conv"))
	assert.True(t, mr.Exists("custom:app:records"))
	assert.True(t, mr.Exists("custom:app:code:ABC123"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-conv"}, list)
}

func TestRedisStore_DeleteReleasesClaim(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	rec := domain.NewRecord("c1")
	rec.Code = "ABC123"
	require.NoError(t, store.Put(ctx, rec))
	assert.True(t, mr.Exists(redis.DefaultPrefix+"claim:ABC123"))

	require.NoError(t, store.Delete(ctx, "c1"))
	assert.False(t, mr.Exists(redis.DefaultPrefix+"claim:ABC123"))
	assert.NoError(t, store.Delete(ctx, "c1"), "deleting twice is a no-op")
}

func TestRedisStore_WithGatewayAndLocker(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	g := session.NewGateway(store, session.WithLocker(redis.NewLocker(client, redis.DefaultPrefix)))
	ctx := context.Background()

	rec, err := g.Commit(ctx, "c1", domain.Patch{Reset: true, Step: domain.Ptr(domain.StepCode)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	rec, err = g.Commit(ctx, "c1", domain.Patch{
		Expect: domain.Ptr(domain.StepCode),
		Step:   domain.Ptr(domain.StepName),
		Code:   domain.Ptr("ABC123"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	loaded, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StepName, loaded.Step)
}
