package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// bookingColumns — порядок колонок для scanBooking.
const bookingColumns = `
	id, user_id, event_id, line_items, total_amount_minor, booking_fee_minor, currency,
	show_location, show_venue, show_date, show_name,
	gateway_order_id, payment_session_id, payment_gateway, payment_status, status,
	ticket_id, reserved_items, released_at,
	email_sent_at, email_lock_id, email_lock_at, email_last_error,
	version, created_at, updated_at, confirmed_at, cancelled_at, expired_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type lineItemRow struct {
	TicketTypeID   string `json:"ticket_type_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type reservedItemRow struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

func encodeLineItems(items []domain.LineItem) ([]byte, error) {
	rows := make([]lineItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, lineItemRow(item))
	}
	return json.Marshal(rows)
}

func decodeLineItems(raw []byte) ([]domain.LineItem, error) {
	var rows []lineItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.LineItem(row))
	}
	return items, nil
}

func encodeReserved(items []domain.ReservedItem) ([]byte, error) {
	rows := make([]reservedItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, reservedItemRow(item))
	}
	return json.Marshal(rows)
}

func decodeReserved(raw []byte) ([]domain.ReservedItem, error) {
	var rows []reservedItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.ReservedItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.ReservedItem(row))
	}
	return items, nil
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b                     domain.Booking
		lineItems, reserved   []byte
		paymentStatus, status string
		releasedAt            sql.NullTime
		emailSentAt           sql.NullTime
		emailLockAt           sql.NullTime
		confirmedAt           sql.NullTime
		cancelledAt           sql.NullTime
		expiredAt             sql.NullTime
	)

	if err := row.Scan(
		&b.ID, &b.UserID, &b.EventID, &lineItems, &b.TotalAmountMinor, &b.BookingFeeMinor, &b.Currency,
		&b.Show.Location, &b.Show.Venue, &b.Show.Date, &b.Show.Show,
		&b.GatewayOrderID, &b.PaymentSessionID, &b.PaymentGateway, &paymentStatus, &status,
		&b.TicketID, &reserved, &releasedAt,
		&emailSentAt, &b.Email.LockID, &emailLockAt, &b.Email.LastError,
		&b.Version, &b.CreatedAt, &b.UpdatedAt, &confirmedAt, &cancelledAt, &expiredAt,
	); err != nil {
		return domain.Booking{}, err
	}

	var err error
	if b.LineItems, err = decodeLineItems(lineItems); err != nil {
		return domain.Booking{}, fmt.Errorf("decode line items of booking %s: %w", b.ID, err)
	}
	if b.Reservation.Items, err = decodeReserved(reserved); err != nil {
		return domain.Booking{}, fmt.Errorf("decode reservation of booking %s: %w", b.ID, err)
	}

	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.Status = domain.BookingStatus(status)
	b.Reservation.ReleasedAt = fromNullTime(releasedAt)
	b.Email.SentAt = fromNullTime(emailSentAt)
	b.Email.LockAt = fromNullTime(emailLockAt)
	b.ConfirmedAt = fromNullTime(confirmedAt)
	b.CancelledAt = fromNullTime(cancelledAt)
	b.ExpiredAt = fromNullTime(expiredAt)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// eventDocument — JSONB-представление вложенных площадок и старых счётчиков события.
type eventDocument struct {
	Venues      []venueDocument `json:"venues"`
	MaxTickets  int             `json:"max_tickets,omitempty"`
	TicketsSold int             `json:"tickets_sold,omitempty"`
}

type venueDocument struct {
	ID          string               `json:"id"`
	Name        string               `json:"name,omitempty"`
	TicketTypes []ticketTypeDocument `json:"ticket_types"`
}

type ticketTypeDocument struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	PriceMinor    int64  `json:"price_minor"`
	TotalQuantity int    `json:"total_quantity"`
	TicketsSold   int    `json:"tickets_sold"`
}

func encodeEvent(e domain.Event) ([]byte, error) {
	doc := eventDocument{
		Venues:      make([]venueDocument, 0, len(e.Venues)),
		MaxTickets:  e.MaxTickets,
		TicketsSold: e.TicketsSold,
	}
	for _, venue := range e.Venues {
		v := venueDocument{ID: venue.ID, Name: venue.Name, TicketTypes: make([]ticketTypeDocument, 0, len(venue.TicketTypes))}
		for _, tt := range venue.TicketTypes {
			v.TicketTypes = append(v.TicketTypes, ticketTypeDocument(tt))
		}
		doc.Venues = append(doc.Venues, v)
	}
	return json.Marshal(doc)
}

func decodeEvent(raw []byte, e *domain.Event) error {
	var doc eventDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode event %s document: %w", e.ID, err)
	}
	e.MaxTickets = doc.MaxTickets
	e.TicketsSold = doc.TicketsSold
	e.Venues = make([]domain.Venue, 0, len(doc.Venues))
	for _, v := range doc.Venues {
		venue := domain.Venue{ID: v.ID, Name: v.Name, TicketTypes: make([]domain.TicketType, 0, len(v.TicketTypes))}
		for _, tt := range v.TicketTypes {
			venue.TicketTypes = append(venue.TicketTypes, domain.TicketType(tt))
		}
		e.Venues = append(e.Venues, venue)
	}
	return nil
}

// mirrorDocument — копия бронирования под событием. Маркеры письма в копию не входят.
type mirrorDocument struct {
	UserID           string               `json:"user_id"`
	LineItems        []lineItemRow        `json:"line_items"`
	TotalAmountMinor int64                `json:"total_amount_minor"`
	BookingFeeMinor  int64                `json:"booking_fee_minor"`
	Currency         string               `json:"currency,omitempty"`
	Show             domain.ShowInfo      `json:"show"`
	GatewayOrderID   string               `json:"gateway_order_id,omitempty"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	Status           domain.BookingStatus `json:"status"`
	TicketID         string               `json:"ticket_id,omitempty"`
	Reserved         []reservedItemRow    `json:"reserved,omitempty"`
	ReleasedAt       time.Time            `json:"released_at,omitempty"`
	Version          int64                `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	ConfirmedAt      time.Time            `json:"confirmed_at,omitempty"`
	CancelledAt      time.Time            `json:"cancelled_at,omitempty"`
	ExpiredAt        time.Time            `json:"expired_at,omitempty"`

	// Маркеры письма накладываются из строки bookings в SQL, см. mirrorEmailJSON.
	EmailSentAt    time.Time `json:"email_sent_at"`
	EmailLockID    string    `json:"email_lock_id"`
	EmailLockAt    time.Time `json:"email_lock_at"`
	EmailLastError string    `json:"email_last_error"`
}

// mirrorEmailJSON строит jsonb с маркерами письма из строки с алиасом alias.
func mirrorEmailJSON(alias string) string {
	return `jsonb_build_object(
		'email_sent_at', ` + alias + `.email_sent_at,
		'email_lock_id', ` + alias + `.email_lock_id,
		'email_lock_at', ` + alias + `.email_lock_at,
		'email_last_error', ` + alias + `.email_last_error)`
}

func encodeMirror(b domain.Booking) ([]byte, error) {
	doc := mirrorDocument{
		UserID:           b.UserID,
		TotalAmountMinor: b.TotalAmountMinor,
		BookingFeeMinor:  b.BookingFeeMinor,
		Currency:         b.Currency,
		Show:             b.Show,
		GatewayOrderID:   b.GatewayOrderID,
		PaymentStatus:    b.PaymentStatus,
		Status:           b.Status,
		TicketID:         b.TicketID,
		ReleasedAt:       b.Reservation.ReleasedAt,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
		ConfirmedAt:      b.ConfirmedAt,
		CancelledAt:      b.CancelledAt,
		ExpiredAt:        b.ExpiredAt,
		EmailSentAt:      b.Email.SentAt,
		EmailLockID:      b.Email.LockID,
		EmailLockAt:      b.Email.LockAt,
		EmailLastError:   b.Email.LastError,
	}
	for _, item := range b.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemRow(item))
	}
	for _, item := range b.Reservation.Items {
		doc.Reserved = append(doc.Reserved, reservedItemRow(item))
	}
	return json.Marshal(doc)
}

func decodeMirror(eventID, bookingID string, raw []byte) (domain.Booking, error) {
	var doc mirrorDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Booking{}, fmt.Errorf("decode mirror of booking %s: %w", bookingID, err)
	}
	b := domain.Booking{
		ID:               bookingID,
		UserID:           doc.UserID,
		EventID:          eventID,
		TotalAmountMinor: doc.TotalAmountMinor,
		BookingFeeMinor:  doc.BookingFeeMinor,
		Currency:         doc.Currency,
		Show:             doc.Show,
		GatewayOrderID:   doc.GatewayOrderID,
		PaymentStatus:    doc.PaymentStatus,
		Status:           doc.Status,
		TicketID:         doc.TicketID,
		Version:          doc.Version,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		ConfirmedAt:      doc.ConfirmedAt,
		CancelledAt:      doc.CancelledAt,
		ExpiredAt:        doc.ExpiredAt,
		Email: domain.EmailDispatch{
			SentAt:    doc.EmailSentAt,
			LockID:    doc.EmailLockID,
			LockAt:    doc.EmailLockAt,
			LastError: doc.EmailLastError,
		},
	}
	b.Reservation.ReleasedAt = doc.ReleasedAt
	for _, item := range doc.LineItems {
		b.LineItems = append(b.LineItems, domain.LineItem(item))
	}
	for _, item := range doc.Reserved {
		b.Reservation.Items = append(b.Reservation.Items, domain.ReservedItem(item))
	}
	return b, nil
}
