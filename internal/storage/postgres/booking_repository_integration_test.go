package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

func TestBookingRepository_EmailLockLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedIntegrationEvent(t, store, 10)
	ctx := context.Background()
	require.NoError(t, reserveInTx(ctx, store, "b-1", 1))

	repo := NewBookingRepository(store)
	now := time.Now().UTC()
	ttl := 5 * time.Minute

	claimed, err := repo.ClaimEmailLock(ctx, "b-1", "lock-a", now, ttl)
	require.NoError(t, err)
	require.Equal(t, "lock-a", claimed.Email.LockID)
	require.Equal(t, int64(1), claimed.Version, "email markers do not bump the version")
	require.Equal(t, "lock-a", mirroredEmail(t, repo, "b-1").LockID)

	_, err = repo.ClaimEmailLock(ctx, "b-1", "lock-b", now.Add(time.Minute), ttl)
	require.ErrorIs(t, err, domain.ErrEmailLockHeld)

	require.ErrorIs(t, repo.MarkEmailSent(ctx, "b-1", "lock-b", now), domain.ErrEmailLockHeld)

	stolen, err := repo.ClaimEmailLock(ctx, "b-1", "lock-c", now.Add(ttl+time.Second), ttl)
	require.NoError(t, err)
	require.Equal(t, "lock-c", stolen.Email.LockID)

	require.NoError(t, repo.MarkEmailFailed(ctx, "b-1", "lock-c", "smtp down", now))
	failed, err := repo.Get(ctx, "b-1")
	require.NoError(t, err)
	require.Empty(t, failed.Email.LockID)
	require.Equal(t, "smtp down", failed.Email.LastError)

	_, err = repo.ClaimEmailLock(ctx, "b-1", "lock-d", now, ttl)
	require.NoError(t, err)
	require.NoError(t, repo.MarkEmailSent(ctx, "b-1", "lock-d", now))
	sent := mirroredEmail(t, repo, "b-1")
	require.Empty(t, sent.LockID)
	require.False(t, sent.SentAt.IsZero(), "mirror carries the sent marker")

	_, err = repo.ClaimEmailLock(ctx, "b-1", "lock-e", now.Add(time.Hour), ttl)
	require.ErrorIs(t, err, domain.ErrEmailAlreadySent)

	_, err = repo.ClaimEmailLock(ctx, "missing", "lock", now, ttl)
	require.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func mirroredEmail(t *testing.T, repo domain.BookingRepository, bookingID string) domain.EmailDispatch {
	t.Helper()
	mirror, err := repo.ListEventBookings(context.Background(), "event-1")
	require.NoError(t, err)
	for _, b := range mirror {
		if b.ID == bookingID {
			return b.Email
		}
	}
	t.Fatalf("booking %s is not mirrored under event-1", bookingID)
	return domain.EmailDispatch{}
}

func TestBookingRepository_QueriesAndUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedIntegrationEvent(t, store, 10)
	ctx := context.Background()
	require.NoError(t, reserveInTx(ctx, store, "b-1", 1))
	require.NoError(t, reserveInTx(ctx, store, "b-2", 2))

	err := store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		booking, err := tx.GetBooking(ctx, "b-2")
		if err != nil {
			return err
		}
		if err := booking.AttachGatewayOrder("fake", "order-2", "session-2", time.Now().UTC()); err != nil {
			return err
		}
		return tx.UpdateBooking(ctx, booking)
	})
	require.NoError(t, err)

	repo := NewBookingRepository(store)
	byOrder, err := repo.FindByGatewayOrderID(ctx, "order-2")
	require.NoError(t, err)
	require.Equal(t, "b-2", byOrder.ID)
	require.Equal(t, int64(2), byOrder.Version)

	_, err = repo.FindByGatewayOrderID(ctx, "")
	require.ErrorIs(t, err, domain.ErrBookingNotFound)

	mine, err := repo.ListByUser(ctx, "user-1", domain.BookingStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	stale, err := repo.ListPendingCreatedBefore(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	awaiting, err := repo.ListAwaitingPayment(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	require.Equal(t, "b-2", awaiting[0].ID)

	recent, err := repo.ScanRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	mirror, err := repo.ListEventBookings(ctx, "event-1")
	require.NoError(t, err)
	require.Len(t, mirror, 2)
	for _, b := range mirror {
		if b.ID == "b-2" {
			require.Equal(t, "order-2", b.GatewayOrderID)
			require.Equal(t, int64(2), b.Version)
		}
	}

	stale2 := byOrder
	stale2.Version = 1
	err = store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.UpdateBooking(ctx, stale2)
	})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestAnalyticsRepository_Increments(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAnalyticsRepository(store)
	ctx := context.Background()
	show := domain.ShowInfo{Location: "Pune", Venue: "Arena", Date: "2026-05-01", Show: "Night"}

	require.NoError(t, repo.IncrementHost(ctx, "b-1", "host-1", 2, 3000))
	require.NoError(t, repo.IncrementHost(ctx, "b-2", "host-1", 1, 1500))
	require.NoError(t, repo.IncrementEvent(ctx, "b-1", "event-1", "host-1", 3, 4500))
	require.NoError(t, repo.IncrementShow(ctx, "b-1", "event-1", "host-1", show, 3, 4500))

	host, err := repo.GetHost(ctx, "host-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), host.TicketsSold)
	require.Equal(t, int64(4500), host.RevenueMinor)

	event, err := repo.GetEvent(ctx, "event-1")
	require.NoError(t, err)
	require.Equal(t, "host-1", event.HostID)

	breakdown, err := repo.GetShow(ctx, show.BreakdownKey())
	require.NoError(t, err)
	require.Equal(t, show, breakdown.Show)
	require.Equal(t, int64(3), breakdown.TicketsSold)

	empty, err := repo.GetHost(ctx, "nobody")
	require.NoError(t, err)
	require.Zero(t, empty.TicketsSold)
}

func TestAnalyticsRepository_RedeliveryIsNoop(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAnalyticsRepository(store)
	ctx := context.Background()
	show := domain.ShowInfo{Location: "Goa", Venue: "Beach", Date: "2026-06-01", Show: "Day"}

	for range 2 {
		require.NoError(t, repo.IncrementHost(ctx, "b-7", "host-7", 2, 1000))
		require.NoError(t, repo.IncrementEvent(ctx, "b-7", "event-7", "host-7", 2, 1000))
		require.NoError(t, repo.IncrementShow(ctx, "b-7", "event-7", "host-7", show, 2, 1000))
	}

	host, err := repo.GetHost(ctx, "host-7")
	require.NoError(t, err)
	require.Equal(t, int64(2), host.TicketsSold)
	require.Equal(t, int64(1000), host.RevenueMinor)

	event, err := repo.GetEvent(ctx, "event-7")
	require.NoError(t, err)
	require.Equal(t, int64(2), event.TicketsSold)

	breakdown, err := repo.GetShow(ctx, show.BreakdownKey())
	require.NoError(t, err)
	require.Equal(t, int64(2), breakdown.TicketsSold)
}

func TestEventRepository_CreateGuards(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewEventRepository(store)
	ctx := context.Background()

	require.ErrorIs(t, repo.Create(ctx, domain.Event{}), domain.ErrEventIDRequired)
	seedIntegrationEvent(t, store, 1)
	require.ErrorIs(t, repo.Create(ctx, domain.Event{ID: "event-1"}), domain.ErrAlreadyExists)

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrEventNotFound)
}
