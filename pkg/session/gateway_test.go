package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/retry"
	"github.com/aretw0/vellora/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

// FlakyStore fails the first N writes with a transient error.
type FlakyStore struct {
	*memory.Store
	failPuts atomic.Int32
	puts     atomic.Int32
}

func (s *FlakyStore) Put(ctx context.Context, rec *domain.Record) error {
	s.puts.Add(1)
	if s.failPuts.Load() > 0 {
		s.failPuts.Add(-1)
		return errFlaky
	}
	return s.Store.Put(ctx, rec)
}

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s *SlowStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Get(ctx, id)
}

func begin(t *testing.T, g *session.Gateway, id string) *domain.Record {
	t.Helper()
	rec, err := g.Commit(context.Background(), id, domain.Patch{Reset: true, Step: domain.Ptr(domain.StepCode)})
	require.NoError(t, err)
	return rec
}

func TestGateway_LoadMissing(t *testing.T) {
	g := session.NewGateway(memory.NewStore())
	_, err := g.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestGateway_ResetCreates(t *testing.T) {
	g := session.NewGateway(memory.NewStore())
	rec := begin(t, g, "c1")
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, domain.StepCode, rec.Step)
	assert.Equal(t, domain.StatusPending, rec.Status)

	// A second begin on a clean record writes nothing.
	again := begin(t, g, "c1")
	assert.Equal(t, int64(1), again.Version)
}

func TestGateway_CommitCreatesMissingRecord(t *testing.T) {
	ctx := context.Background()
	g := session.NewGateway(memory.NewStore())

	rec, err := g.Commit(ctx, "c1", domain.Patch{Name: domain.Ptr("Jo Lin")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "c1", rec.ConversationID)
	assert.Equal(t, domain.StepCode, rec.Step)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "Jo Lin", rec.Name)

	stored, err := g.Load(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, rec.Equivalent(stored))

	// A patch computed for another step still loses against a fresh record.
	_, err = g.Commit(ctx, "c2", domain.Patch{Expect: domain.Ptr(domain.StepHandle), Step: domain.Ptr(domain.StepCredential)})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGateway_CommitIdempotent(t *testing.T) {
	ctx := context.Background()
	g := session.NewGateway(memory.NewStore())
	begin(t, g, "c1")

	patch := domain.Patch{
		Expect: domain.Ptr(domain.StepCode),
		Step:   domain.Ptr(domain.StepName),
		Code:   domain.Ptr("ABC123"),
		Plan:   domain.Ptr("grower"),
	}
	first, err := g.Commit(ctx, "c1", patch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Version)

	second, err := g.Commit(ctx, "c1", patch)
	require.NoError(t, err, "replaying an applied patch is not a conflict")
	assert.Equal(t, int64(2), second.Version)
	assert.True(t, first.Equivalent(second))
}

func TestGateway_StaleExpectConflicts(t *testing.T) {
	ctx := context.Background()
	g := session.NewGateway(memory.NewStore())
	begin(t, g, "c1")

	_, err := g.Commit(ctx, "c1", domain.Patch{
		Expect: domain.Ptr(domain.StepHandle),
		Step:   domain.Ptr(domain.StepCredential),
		Handle: domain.Ptr("jolin_"),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	rec, err := g.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, rec.Handle)
}

func TestGateway_RejectsOutOfRangeStep(t *testing.T) {
	g := session.NewGateway(memory.NewStore())
	begin(t, g, "c1")
	_, err := g.Commit(context.Background(), "c1", domain.Patch{Step: domain.Ptr(domain.MaxStep + 1)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	store := &FlakyStore{Store: memory.NewStore()}
	g := session.NewGateway(store)
	begin(t, g, "c1")

	store.failPuts.Store(2)
	rec, err := g.Commit(context.Background(), "c1", domain.Patch{
		Expect: domain.Ptr(domain.StepCode),
		Step:   domain.Ptr(domain.StepName),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StepName, rec.Step)
	assert.Equal(t, int32(4), store.puts.Load())
}

func TestGateway_GivesUpAfterAttempts(t *testing.T) {
	store := &FlakyStore{Store: memory.NewStore()}
	g := session.NewGateway(store, session.WithRetry(2, 0))
	begin(t, g, "c1")

	store.failPuts.Store(5)
	_, err := g.Commit(context.Background(), "c1", domain.Patch{
		Expect: domain.Ptr(domain.StepCode),
		Step:   domain.Ptr(domain.StepName),
	})
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, exhausted.Attempts)
}

func TestGateway_SerialisesCommits(t *testing.T) {
	ctx := context.Background()
	g := session.NewGateway(&SlowStore{Store: memory.NewStore()})
	begin(t, g, "c1")

	// Every racer computes its patch from step 0; only one may apply it.
	const racers = 10
	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Commit(ctx, "c1", domain.Patch{
				Expect: domain.Ptr(domain.StepCode),
				Step:   domain.Ptr(domain.StepName),
				Code:   domain.Ptr(string(rune('A' + i))),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())

	rec, err := g.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	unlocked int
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func(context.Context) error {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
		return nil
	}, nil
}

func TestGateway_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	g := session.NewGateway(memory.NewStore(), session.WithLocker(locker))
	begin(t, g, "c1")
	require.NoError(t, g.Delete(context.Background(), "c1"))

	assert.Equal(t, []string{"c1", "c1"}, locker.locked)
	assert.Equal(t, 2, locker.unlocked)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("lock timeout")
}

func TestGateway_LockFailure(t *testing.T) {
	g := session.NewGateway(memory.NewStore(), session.WithLocker(failingLocker{}))
	_, err := g.Commit(context.Background(), "c1", domain.Patch{Reset: true})
	assert.ErrorContains(t, err, "lock timeout")
}
