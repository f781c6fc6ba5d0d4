package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

type bookingRepository struct {
	db *sql.DB
}

// NewBookingRepository создаёт PostgreSQL-реализацию BookingRepository.
func NewBookingRepository(store *Store) domain.BookingRepository {
	return &bookingRepository{db: store.DB()}
}

func (r *bookingRepository) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	return r.getBy(ctx, "id", bookingID)
}

func (r *bookingRepository) FindByGatewayOrderID(ctx context.Context, orderID string) (domain.Booking, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return r.getBy(ctx, "gateway_order_id", orderID)
}

func (r *bookingRepository) getBy(ctx context.Context, column, value string) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	booking, err := scanBooking(r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE `+column+` = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("select booking by %s: %w", column, err)
	}
	return booking, nil
}

// ListByUser читает по индексу (user_id, status, created_at). Индекс создаётся
// миграцией вместе с таблицей, поэтому ErrIndexUnavailable здесь не возникает.
func (r *bookingRepository) ListByUser(ctx context.Context, userID string, status domain.BookingStatus, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, string(status), normalizeLimit(limit))
}

func (r *bookingRepository) ScanRecent(ctx context.Context, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, normalizeLimit(limit))
}

func (r *bookingRepository) ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `
		WHERE status = 'PENDING' AND created_at <= $1
		ORDER BY created_at, id
		LIMIT $2
	`, before.UTC(), normalizeLimit(limit))
}

func (r *bookingRepository) ListAwaitingPayment(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `
		WHERE status = 'PENDING' AND gateway_order_id <> '' AND updated_at <= $1
		ORDER BY created_at, id
		LIMIT $2
	`, updatedBefore.UTC(), normalizeLimit(limit))
}

// ListUnreleased находит отказные бронирования, резерв которых не вернули.
func (r *bookingRepository) ListUnreleased(ctx context.Context, limit int) ([]domain.Booking, error) {
	return r.list(ctx, `
		WHERE status IN ('CANCELLED', 'EXPIRED', 'FAILED')
		  AND released_at IS NULL
		  AND jsonb_array_length(reserved_items) > 0
		ORDER BY created_at, id
		LIMIT $1
	`, normalizeLimit(limit))
}

// ListEventBookings читает копии бронирований под событием.
func (r *bookingRepository) ListEventBookings(ctx context.Context, eventID string) ([]domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT booking_id, document
		FROM event_bookings
		WHERE event_id = $1
		ORDER BY (document->>'created_at')::timestamptz DESC, booking_id DESC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("select event bookings: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Booking, 0)
	for rows.Next() {
		var (
			bookingID string
			doc       []byte
		)
		if err := rows.Scan(&bookingID, &doc); err != nil {
			return nil, fmt.Errorf("scan event booking: %w", err)
		}
		booking, err := decodeMirror(eventID, bookingID, doc)
		if err != nil {
			return nil, err
		}
		result = append(result, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event bookings: %w", err)
	}
	return result, nil
}

// ClaimEmailLock берёт lock письма одним условным UPDATE; копия под событием
// обновляется в том же statement.
func (r *bookingRepository) ClaimEmailLock(ctx context.Context, bookingID, lockID string, now time.Time, lockTTL time.Duration) (domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	booking, err := scanBooking(r.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE bookings
			SET email_lock_id = $2, email_lock_at = $3
			WHERE id = $1
			  AND email_sent_at IS NULL
			  AND (email_lock_id = '' OR email_lock_at IS NULL OR email_lock_at <= $4)
			RETURNING `+bookingColumns+`
		), mirrored AS (
			`+refreshMirrorEmail("claimed")+`
		)
		SELECT `+bookingColumns+` FROM claimed`,
		bookingID, lockID, now.UTC(), now.Add(-lockTTL).UTC()))
	if err == nil {
		return booking, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, fmt.Errorf("claim email lock for booking %s: %w", bookingID, err)
	}

	current, err := r.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if claimErr := current.Email.CanClaimEmail(now, lockTTL); claimErr != nil {
		return current, claimErr
	}
	return current, domain.ErrEmailLockHeld
}

func (r *bookingRepository) MarkEmailSent(ctx context.Context, bookingID, lockID string, now time.Time) error {
	return r.releaseEmailLock(ctx, bookingID, lockID, `email_sent_at = $3, email_last_error = ''`, now.UTC())
}

func (r *bookingRepository) MarkEmailFailed(ctx context.Context, bookingID, lockID, reason string, _ time.Time) error {
	return r.releaseEmailLock(ctx, bookingID, lockID, `email_last_error = $3`, reason)
}

func (r *bookingRepository) releaseEmailLock(ctx context.Context, bookingID, lockID, set string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var released int
	err := r.db.QueryRowContext(ctx, `
		WITH released AS (
			UPDATE bookings
			SET `+set+`, email_lock_id = '', email_lock_at = NULL
			WHERE id = $1 AND email_lock_id = $2
			RETURNING id, event_id, email_sent_at, email_lock_id, email_lock_at, email_last_error
		), mirrored AS (
			`+refreshMirrorEmail("released")+`
		)
		SELECT count(*) FROM released
	`, bookingID, lockID, value).Scan(&released)
	if err != nil {
		return fmt.Errorf("update email markers of booking %s: %w", bookingID, err)
	}
	if released == 0 {
		if _, getErr := r.Get(ctx, bookingID); errors.Is(getErr, domain.ErrBookingNotFound) {
			return getErr
		}
		return domain.ErrEmailLockHeld
	}
	return nil
}

// refreshMirrorEmail переносит маркеры письма из CTE source в event_bookings.
func refreshMirrorEmail(source string) string {
	return `UPDATE event_bookings eb
			SET document = eb.document || ` + mirrorEmailJSON(source) + `
			FROM ` + source + `
			WHERE eb.event_id = ` + source + `.event_id AND eb.booking_id = ` + source + `.id`
}

func (r *bookingRepository) list(ctx context.Context, tail string, args ...any) ([]domain.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		result = append(result, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return result, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

type eventRepository struct {
	db *sql.DB
}

// NewEventRepository создаёт PostgreSQL-реализацию EventRepository.
func NewEventRepository(store *Store) domain.EventRepository {
	return &eventRepository{db: store.DB()}
}

func (r *eventRepository) Get(ctx context.Context, eventID string) (domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getEvent(ctx, r.db, eventID, false)
}

func (r *eventRepository) Create(ctx context.Context, event domain.Event) error {
	if strings.TrimSpace(event.ID) == "" {
		return domain.ErrEventIDRequired
	}
	doc, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, host_id, title, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, event.ID, event.HostID, event.Title, doc, event.Version, now); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}
	return nil
}

var (
	_ domain.BookingRepository = (*bookingRepository)(nil)
	_ domain.EventRepository   = (*eventRepository)(nil)
)
