package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func TestOutboxLog_PullPendingKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	log := NewOutboxRepository()

	first, err := log.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateTypeBooking,
		AggregateID:   "booking-1",
		EventType:     domain.EventTypeBookingStatusChanged,
		Payload:       []byte(`{"status":"CONFIRMED"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := log.Enqueue(ctx, domain.OutboxMessage{ID: "fixed", AggregateID: "booking-2"})
	require.NoError(t, err)
	require.Equal(t, "fixed", second.ID)

	pending, err := log.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, "fixed"}, []string{pending[0].ID, pending[1].ID})

	limited, err := log.PullPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, first.ID, limited[0].ID)
}

func TestOutboxLog_SettleStatsAndRequeue(t *testing.T) {
	ctx := context.Background()
	log := NewOutboxRepository()

	sent, _ := log.Enqueue(ctx, domain.OutboxMessage{AggregateID: "a"})
	failed, _ := log.Enqueue(ctx, domain.OutboxMessage{AggregateID: "b"})
	waiting, _ := log.Enqueue(ctx, domain.OutboxMessage{AggregateID: "c"})

	require.NoError(t, log.MarkSent(ctx, sent.ID))
	require.NoError(t, log.MarkFailed(ctx, failed.ID))
	require.ErrorIs(t, log.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 1, stats.FailedCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	requeued, err := log.RequeueFailed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	pending := log.AllPending()
	require.Len(t, pending, 2)
	require.Equal(t, failed.ID, pending[0].ID, "requeued message keeps its original position")
	require.Equal(t, waiting.ID, pending[1].ID)
	require.Equal(t, 1, log.byID[failed.ID].deliveries)
}

func TestOutboxLog_RequeueRespectsLimit(t *testing.T) {
	ctx := context.Background()
	log := NewOutboxRepository()
	for range 3 {
		msg, _ := log.Enqueue(ctx, domain.OutboxMessage{AggregateID: "x"})
		require.NoError(t, log.MarkFailed(ctx, msg.ID))
	}

	requeued, err := log.RequeueFailed(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, requeued)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.Equal(t, 1, stats.FailedCount)
}
