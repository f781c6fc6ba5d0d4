package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func TestOutboxRepository_LifecycleInWriteOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		msg, err := repo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateTypeBooking,
			AggregateID:   fmt.Sprintf("b-%d", i),
			EventType:     domain.EventTypeBookingStatusChanged,
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		ids = append(ids, msg.ID)
	}

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, msg := range pending {
		require.Equal(t, ids[i], msg.ID)
	}

	require.NoError(t, repo.MarkSent(ctx, ids[0]))
	require.NoError(t, repo.MarkFailed(ctx, ids[1]))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 1, stats.FailedCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	requeued, err := repo.RequeueFailed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, ids[1], pending[0].ID)

	err = repo.MarkSent(ctx, "missing")
	require.True(t, errors.Is(err, domain.ErrOutboxPublish))
}

func TestOutboxRepository_EnqueueInsideTransaction(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	boom := errors.New("rollback")
	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateTypeBooking,
			AggregateID:   "b-1",
			EventType:     domain.EventTypeBookingStatusChanged,
			Payload:       []byte(`{}`),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
