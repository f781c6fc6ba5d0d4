package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

type bookingRepository struct {
	store *Store
}

func (r *bookingRepository) Get(_ context.Context, bookingID string) (domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	booking, ok := r.store.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return booking.Clone(), nil
}

func (r *bookingRepository) FindByGatewayOrderID(_ context.Context, orderID string) (domain.Booking, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Booking{}, domain.ErrBookingNotFound
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, booking := range r.store.bookings {
		if booking.GatewayOrderID == orderID {
			return booking.Clone(), nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (r *bookingRepository) ListByUser(_ context.Context, userID string, status domain.BookingStatus, limit int) ([]domain.Booking, error) {
	if r.store.indexUnavailable.Load() {
		return nil, domain.ErrIndexUnavailable
	}

	return r.filter(limit, newestFirst, func(b domain.Booking) bool {
		return b.UserID == userID && (status == "" || b.Status == status)
	}), nil
}

func (r *bookingRepository) ScanRecent(_ context.Context, limit int) ([]domain.Booking, error) {
	return r.filter(limit, newestFirst, func(domain.Booking) bool { return true }), nil
}

func (r *bookingRepository) ListPendingCreatedBefore(_ context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	return r.filter(limit, oldestFirst, func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusPending && !b.CreatedAt.After(before)
	}), nil
}

func (r *bookingRepository) ListAwaitingPayment(_ context.Context, updatedBefore time.Time, limit int) ([]domain.Booking, error) {
	return r.filter(limit, oldestFirst, func(b domain.Booking) bool {
		return b.Status == domain.BookingStatusPending &&
			b.GatewayOrderID != "" &&
			!b.UpdatedAt.After(updatedBefore)
	}), nil
}

func (r *bookingRepository) ListUnreleased(_ context.Context, limit int) ([]domain.Booking, error) {
	return r.filter(limit, oldestFirst, func(b domain.Booking) bool {
		return b.NeedsRelease()
	}), nil
}

func (r *bookingRepository) ListEventBookings(_ context.Context, eventID string) ([]domain.Booking, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	byEvent := r.store.mirror[eventID]
	result := make([]domain.Booking, 0, len(byEvent))
	for _, booking := range byEvent {
		result = append(result, booking.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return newestFirst(result[i], result[j]) })
	return result, nil
}

func (r *bookingRepository) ClaimEmailLock(_ context.Context, bookingID, lockID string, now time.Time, lockTTL time.Duration) (domain.Booking, error) {
	r.store.txMu.Lock()
	defer r.store.txMu.Unlock()
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	booking, ok := r.store.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err := booking.Email.CanClaimEmail(now, lockTTL); err != nil {
		return booking.Clone(), err
	}

	booking.Email.LockID = lockID
	booking.Email.LockAt = now
	r.store.bookings[bookingID] = booking
	r.store.mirrorLocked(booking)
	return booking.Clone(), nil
}

func (r *bookingRepository) MarkEmailSent(_ context.Context, bookingID, lockID string, now time.Time) error {
	return r.updateEmail(bookingID, lockID, func(e *domain.EmailDispatch) {
		e.SentAt = now
		e.LastError = ""
	})
}

func (r *bookingRepository) MarkEmailFailed(_ context.Context, bookingID, lockID, reason string, _ time.Time) error {
	return r.updateEmail(bookingID, lockID, func(e *domain.EmailDispatch) {
		e.LastError = reason
	})
}

func (r *bookingRepository) updateEmail(bookingID, lockID string, apply func(*domain.EmailDispatch)) error {
	r.store.txMu.Lock()
	defer r.store.txMu.Unlock()
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	booking, ok := r.store.bookings[bookingID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if booking.Email.LockID != lockID {
		return domain.ErrEmailLockHeld
	}

	apply(&booking.Email)
	booking.Email.LockID = ""
	booking.Email.LockAt = time.Time{}
	r.store.bookings[bookingID] = booking
	r.store.mirrorLocked(booking)
	return nil
}

func (r *bookingRepository) filter(limit int, less func(a, b domain.Booking) bool, keep func(domain.Booking) bool) []domain.Booking {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Booking, 0)
	for _, booking := range r.store.bookings {
		if keep(booking) {
			result = append(result, booking.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func newestFirst(a, b domain.Booking) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func oldestFirst(a, b domain.Booking) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

type eventRepository struct {
	store *Store
}

func (r *eventRepository) Get(_ context.Context, eventID string) (domain.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	event, ok := r.store.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return event.Clone(), nil
}

func (r *eventRepository) Create(_ context.Context, event domain.Event) error {
	if strings.TrimSpace(event.ID) == "" {
		return domain.ErrEventIDRequired
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.events[event.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.store.events[event.ID] = event.Clone()
	return nil
}

// DeleteEvent удаляет документ события (для сценариев с «призрачными» бронированиями).
func (s *Store) DeleteEvent(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
}

// PutBooking записывает бронирование напрямую, минуя транзакцию (для подготовки тестовых данных).
func (s *Store) PutBooking(booking domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if booking.Version == 0 {
		booking.Version = 1
	}
	s.bookings[booking.ID] = booking.Clone()
	s.mirrorLocked(booking)
}

var (
	_ domain.BookingRepository = (*bookingRepository)(nil)
	_ domain.EventRepository   = (*eventRepository)(nil)
)
