package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/storage/memory"
)

func seedKeys(t *testing.T, repo domain.IdempotencyRepository, prefix string, n int, ttlAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.CreateProcessing(context.Background(), fmt.Sprintf("%s-%d", prefix, i), "hash", ttlAt)
		require.NoError(t, err)
	}
}

func TestPurge_DeletesOnlyExpiredKeys(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	seedKeys(t, repo, "expired", 5, now.Add(-time.Minute))
	seedKeys(t, repo, "live", 2, now.Add(time.Hour))

	report, err := NewJanitor(repo, WithBatchSize(2)).Purge(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, Report{Deleted: 5, Batches: 3}, report)

	_, err = repo.Get(context.Background(), "live-0")
	require.NoError(t, err)
	_, err = repo.Get(context.Background(), "expired-0")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestPurge_StopsAtBatchLimit(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	seedKeys(t, repo, "expired", 6, now.Add(-time.Minute))

	report, err := NewJanitor(repo, WithBatchSize(2), WithMaxBatches(2)).Purge(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, Report{Deleted: 4, Batches: 2, Truncated: true}, report)
}

type failingRepo struct {
	domain.IdempotencyRepository
	results []int
	err     error
}

func (r *failingRepo) DeleteExpired(context.Context, time.Time, int) (int, error) {
	if len(r.results) == 0 {
		return 0, r.err
	}
	n := r.results[0]
	r.results = r.results[1:]
	return n, nil
}

func TestPurge_ErrorKeepsPartialReport(t *testing.T) {
	t.Parallel()
	repo := &failingRepo{results: []int{3}, err: errors.New("connection reset")}

	report, err := NewJanitor(repo, WithBatchSize(3)).Purge(context.Background(), time.Now())
	require.Error(t, err)
	require.Equal(t, 3, report.Deleted)
	require.Equal(t, 1, report.Batches)
}

func TestPurge_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewJanitor(memory.NewIdempotencyRepository()).Purge(ctx, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}

type stubLocker struct {
	acquire  bool
	attempts atomic.Int32
	released atomic.Int32
}

func (l *stubLocker) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	l.attempts.Add(1)
	if !l.acquire {
		return nil, false, nil
	}
	return func() { l.released.Add(1) }, true, nil
}

func TestRun_PurgesUnderLease(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepository()
	seedKeys(t, repo, "expired", 1, time.Now().UTC().Add(-time.Minute))
	locker := &stubLocker{acquire: true}
	janitor := NewJanitor(repo, WithJobLocker(locker), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		janitor.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, err := repo.Get(context.Background(), "expired-0")
		return errors.Is(err, domain.ErrIdempotencyKeyNotFound)
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Positive(t, locker.released.Load())
}

func TestRun_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	t.Parallel()
	repo := memory.NewIdempotencyRepository()
	seedKeys(t, repo, "expired", 1, time.Now().UTC().Add(-time.Minute))
	locker := &stubLocker{}
	janitor := NewJanitor(repo, WithJobLocker(locker), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		janitor.Run(ctx)
	}()
	require.Eventually(t, func() bool { return locker.attempts.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	_, err := repo.Get(context.Background(), "expired-0")
	require.NoError(t, err)
}
