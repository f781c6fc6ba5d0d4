package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// pgTx реализует domain.Tx поверх SERIALIZABLE-транзакции.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	return getEvent(ctx, t.tx, eventID, true)
}

// SaveEvent пишет документ события с проверкой версии.
func (t *pgTx) SaveEvent(ctx context.Context, event domain.Event) error {
	doc, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE events
		SET host_id = $2, title = $3, document = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6
	`, event.ID, event.HostID, event.Title, doc, time.Now().UTC(), event.Version)
	if err != nil {
		return fmt.Errorf("update event %s: %w", event.ID, err)
	}
	return expectOneRow(res, domain.ErrVersionConflict)
}

func (t *pgTx) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	booking, err := scanBooking(t.tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("select booking %s: %w", bookingID, err)
	}
	return booking, nil
}

// InsertBooking создаёт бронирование с версией 1 и его копию под событием.
func (t *pgTx) InsertBooking(ctx context.Context, booking domain.Booking) error {
	lineItems, err := encodeLineItems(booking.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	reserved, err := encodeReserved(booking.Reservation.Items)
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}
	booking.Version = 1

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO bookings (
			id, user_id, event_id, line_items, total_amount_minor, booking_fee_minor, currency,
			show_location, show_venue, show_date, show_name,
			gateway_order_id, payment_session_id, payment_gateway, payment_status, status,
			ticket_id, reserved_items, released_at,
			version, created_at, updated_at, confirmed_at, cancelled_at, expired_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`,
		booking.ID, booking.UserID, booking.EventID, lineItems, booking.TotalAmountMinor, booking.BookingFeeMinor, booking.Currency,
		booking.Show.Location, booking.Show.Venue, booking.Show.Date, booking.Show.Show,
		booking.GatewayOrderID, booking.PaymentSessionID, booking.PaymentGateway, string(booking.PaymentStatus), string(booking.Status),
		booking.TicketID, reserved, nullTime(booking.Reservation.ReleasedAt),
		booking.Version, booking.CreatedAt.UTC(), booking.UpdatedAt.UTC(),
		nullTime(booking.ConfirmedAt), nullTime(booking.CancelledAt), nullTime(booking.ExpiredAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert booking %s: %w", booking.ID, err)
	}
	return t.writeMirror(ctx, booking)
}

// UpdateBooking пишет состояние бронирования с проверкой версии.
// Маркеры письма не трогает: ими владеют ClaimEmailLock и MarkEmail*.
func (t *pgTx) UpdateBooking(ctx context.Context, booking domain.Booking) error {
	lineItems, err := encodeLineItems(booking.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	reserved, err := encodeReserved(booking.Reservation.Items)
	if err != nil {
		return fmt.Errorf("encode reservation: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE bookings SET
			line_items = $2, total_amount_minor = $3, booking_fee_minor = $4, currency = $5,
			show_location = $6, show_venue = $7, show_date = $8, show_name = $9,
			gateway_order_id = $10, payment_session_id = $11, payment_gateway = $12,
			payment_status = $13, status = $14, ticket_id = $15,
			reserved_items = $16, released_at = $17,
			updated_at = $18, confirmed_at = $19, cancelled_at = $20, expired_at = $21,
			version = version + 1
		WHERE id = $1 AND version = $22
	`,
		booking.ID, lineItems, booking.TotalAmountMinor, booking.BookingFeeMinor, booking.Currency,
		booking.Show.Location, booking.Show.Venue, booking.Show.Date, booking.Show.Show,
		booking.GatewayOrderID, booking.PaymentSessionID, booking.PaymentGateway,
		string(booking.PaymentStatus), string(booking.Status), booking.TicketID,
		reserved, nullTime(booking.Reservation.ReleasedAt),
		booking.UpdatedAt.UTC(), nullTime(booking.ConfirmedAt), nullTime(booking.CancelledAt), nullTime(booking.ExpiredAt),
		booking.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("update booking %s: %w", booking.ID, err)
	}
	if err := expectOneRow(res, domain.ErrVersionConflict); err != nil {
		return err
	}

	booking.Version++
	return t.writeMirror(ctx, booking)
}

func (t *pgTx) Enqueue(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := insertOutbox(ctx, t.tx, msg)
	return err
}

// writeMirror обновляет копию под событием; маркеры письма берутся из строки bookings.
func (t *pgTx) writeMirror(ctx context.Context, booking domain.Booking) error {
	doc, err := encodeMirror(booking)
	if err != nil {
		return fmt.Errorf("encode mirror: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO event_bookings (event_id, booking_id, document, updated_at)
		SELECT b.event_id, b.id, $2::jsonb || `+mirrorEmailJSON("b")+`, $3::timestamptz
		FROM bookings b
		WHERE b.id = $1
		ON CONFLICT (event_id, booking_id)
		DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`, booking.ID, doc, booking.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("write mirror of booking %s: %w", booking.ID, err)
	}
	return nil
}

// querier — общее у *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEvent(ctx context.Context, q querier, eventID string, forUpdate bool) (domain.Event, error) {
	query := `SELECT id, host_id, title, document, version FROM events WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		event domain.Event
		doc   []byte
	)
	err := q.QueryRowContext(ctx, query, eventID).Scan(&event.ID, &event.HostID, &event.Title, &doc, &event.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("select event %s: %w", eventID, err)
	}
	if err := decodeEvent(doc, &event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

func insertOutbox(ctx context.Context, q querier, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := q.ExecContext(ctx,
		`INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

func expectOneRow(res sql.Result, none error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return none
	}
	return nil
}

var _ domain.Tx = (*pgTx)(nil)
