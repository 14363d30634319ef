package middleware_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/persistence/middleware"
	"github.com/aretw0/vellora/pkg/ports"
)

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (o *recordingObserver) ObserveStore(op string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.errs = append(o.errs, err)
}

func TestChain_SatisfiesStoreContract(t *testing.T) {
	key := make([]byte, middleware.KeySize)
	store := middleware.Chain(memory.NewStore(),
		middleware.NewInstrumentation(&recordingObserver{}),
		middleware.NewCache(time.Minute),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)
	ports.RunStoreContract(t, store)
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next ports.Store) ports.Store {
			order = append(order, name)
			return next
		}
	}
	middleware.Chain(memory.NewStore(), tag("outer"), nil, tag("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestInstrumentation(t *testing.T) {
	obs := &recordingObserver{}
	store := middleware.NewInstrumentation(obs)(memory.NewStore())
	ctx := t.Context()

	_, _ = store.Get(ctx, "missing")
	_ = store.Put(ctx, domain.NewRecord("i1"))
	_, _ = store.List(ctx)
	_, _ = store.GetCode(ctx, "NOPE00")
	_ = store.Delete(ctx, "i1")

	assert.Equal(t, []string{"get", "put", "list", "get_code", "delete"}, obs.ops)
	assert.True(t, errors.Is(obs.errs[0], domain.ErrRecordNotFound))
	assert.NoError(t, obs.errs[1])
	assert.True(t, errors.Is(obs.errs[3], domain.ErrCodeNotFound))
}
