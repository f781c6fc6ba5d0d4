package domain

import (
	"fmt"
	"time"
)

// BookingStatus описывает жизненный цикл бронирования.
type BookingStatus string

const (
	// BookingStatusPending — места зарезервированы, оплата ещё не подтверждена.
	BookingStatusPending BookingStatus = "PENDING"
	// BookingStatusConfirmed — оплата подтверждена, билет выписан.
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	// BookingStatusCancelled — шлюз сообщил о неуспешной оплате.
	BookingStatusCancelled BookingStatus = "CANCELLED"
	// BookingStatusExpired — бронирование брошено и снято по таймауту.
	BookingStatusExpired BookingStatus = "EXPIRED"
	// BookingStatusFailed — бронирование не удалось довести до оплаты.
	BookingStatusFailed BookingStatus = "FAILED"
)

// PaymentStatus описывает состояние платежа по бронированию.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// validStatePairs перечисляет единственно допустимые сочетания статусов.
var validStatePairs = map[BookingStatus]PaymentStatus{
	BookingStatusPending:   PaymentStatusInitiated,
	BookingStatusConfirmed: PaymentStatusSuccess,
	BookingStatusCancelled: PaymentStatusFailed,
	BookingStatusExpired:   PaymentStatusFailed,
	BookingStatusFailed:    PaymentStatusFailed,
}

// ValidStatePair проверяет, что пара статусов бронирования и платежа допустима.
func ValidStatePair(booking BookingStatus, payment PaymentStatus) bool {
	want, ok := validStatePairs[booking]
	return ok && want == payment
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s BookingStatus) IsTerminal() bool {
	return s != BookingStatusPending
}

// IsTerminalFailure сообщает, что бронирование завершилось без оплаты.
func (s BookingStatus) IsTerminalFailure() bool {
	switch s {
	case BookingStatusCancelled, BookingStatusExpired, BookingStatusFailed:
		return true
	default:
		return false
	}
}

// LineItem — одна позиция бронирования.
type LineItem struct {
	TicketTypeID   string
	Quantity       int
	UnitPriceMinor int64
}

// ShowInfo описывает показ, к которому относится бронирование.
type ShowInfo struct {
	Location string
	Venue    string
	Date     string
	Show     string
}

// IsZero сообщает, что метаданные показа не заданы.
func (s ShowInfo) IsZero() bool {
	return s.Location == "" && s.Venue == "" && s.Date == "" && s.Show == ""
}

// ReservedItem — количество мест, списанное со счётчика типа билета.
type ReservedItem struct {
	TicketTypeID string
	Quantity     int
}

// BookingReservation фиксирует, что именно было зарезервировано и снят ли резерв.
type BookingReservation struct {
	Items      []ReservedItem
	ReleasedAt time.Time
}

// Held сообщает, что резерв существует и ещё не снят.
func (r BookingReservation) Held() bool {
	return len(r.Items) > 0 && r.ReleasedAt.IsZero()
}

// EmailDispatch хранит маркеры отправки письма подтверждения.
type EmailDispatch struct {
	SentAt    time.Time
	LockID    string
	LockAt    time.Time
	LastError string
}

// Booking агрегирует состояние бронирования.
type Booking struct {
	ID      string
	UserID  string
	EventID string

	LineItems        []LineItem
	TotalAmountMinor int64
	BookingFeeMinor  int64
	Currency         string
	Show             ShowInfo

	GatewayOrderID   string
	PaymentSessionID string
	PaymentGateway   string
	PaymentStatus    PaymentStatus
	Status           BookingStatus

	TicketID    string
	Reservation BookingReservation
	Email       EmailDispatch

	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt time.Time
	CancelledAt time.Time
	ExpiredAt   time.Time
}

// NewPendingBooking создаёт бронирование в начальном состоянии (PENDING, INITIATED).
func NewPendingBooking(id, userID, eventID string, items []LineItem, now time.Time) Booking {
	return Booking{
		ID:            id,
		UserID:        userID,
		EventID:       eventID,
		LineItems:     append([]LineItem(nil), items...),
		Status:        BookingStatusPending,
		PaymentStatus: PaymentStatusInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone возвращает копию бронирования без общих слайсов.
func (b Booking) Clone() Booking {
	dst := b
	dst.LineItems = append([]LineItem(nil), b.LineItems...)
	dst.Reservation.Items = append([]ReservedItem(nil), b.Reservation.Items...)
	return dst
}

// TicketCount возвращает общее количество билетов в бронировании.
func (b Booking) TicketCount() int {
	total := 0
	for _, item := range b.LineItems {
		total += item.Quantity
	}
	return total
}

// SubtotalMinor возвращает сумму позиций без сервисного сбора.
func (b Booking) SubtotalMinor() int64 {
	var total int64
	for _, item := range b.LineItems {
		total += int64(item.Quantity) * item.UnitPriceMinor
	}
	return total
}

// IsConfirmed сообщает, что бронирование в состоянии (CONFIRMED, SUCCESS).
func (b Booking) IsConfirmed() bool {
	return b.Status == BookingStatusConfirmed && b.PaymentStatus == PaymentStatusSuccess
}

// NeedsRelease сообщает, что резерв нужно вернуть в inventory.
// Подтверждённое бронирование резерв никогда не возвращает.
func (b Booking) NeedsRelease() bool {
	return b.Status.IsTerminalFailure() && b.Reservation.Held()
}

// ValidateInvariants проверяет базовые инварианты бронирования и возвращает список замечаний.
func (b Booking) ValidateInvariants() []error {
	var errs []error

	if b.EventID == "" {
		errs = append(errs, ErrEventIDRequired)
	}
	if len(b.LineItems) == 0 {
		errs = append(errs, ErrLineItemsRequired)
	}
	for _, item := range b.LineItems {
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
	}
	if b.TotalAmountMinor < 0 || b.BookingFeeMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if !ValidStatePair(b.Status, b.PaymentStatus) {
		errs = append(errs, fmt.Errorf("%w: (%s, %s)", ErrInvalidTransition, b.Status, b.PaymentStatus))
	}

	return errs
}

// Confirm переводит бронирование в (CONFIRMED, SUCCESS).
// ticketID присваивается только если билет ещё не выписан.
func (b *Booking) Confirm(ticketID string, now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, b.Status)
	}
	if b.TicketID == "" {
		b.TicketID = ticketID
	}
	b.Status = BookingStatusConfirmed
	b.PaymentStatus = PaymentStatusSuccess
	b.ConfirmedAt = now
	b.UpdatedAt = now
	return nil
}

// Cancel переводит бронирование в (CANCELLED, FAILED).
func (b *Booking) Cancel(now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = BookingStatusCancelled
	b.PaymentStatus = PaymentStatusFailed
	b.CancelledAt = now
	b.UpdatedAt = now
	return nil
}

// Expire переводит бронирование в (EXPIRED, FAILED).
func (b *Booking) Expire(now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: expire from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = BookingStatusExpired
	b.PaymentStatus = PaymentStatusFailed
	b.ExpiredAt = now
	b.UpdatedAt = now
	return nil
}

// Fail переводит бронирование в (FAILED, FAILED).
func (b *Booking) Fail(now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, b.Status)
	}
	b.Status = BookingStatusFailed
	b.PaymentStatus = PaymentStatusFailed
	b.UpdatedAt = now
	return nil
}

// MarkReleased фиксирует возврат резерва.
func (b *Booking) MarkReleased(now time.Time) {
	if len(b.Reservation.Items) == 0 || !b.Reservation.ReleasedAt.IsZero() {
		return
	}
	b.Reservation.ReleasedAt = now
	b.UpdatedAt = now
}

// AttachGatewayOrder привязывает заказ платёжного шлюза к бронированию.
func (b *Booking) AttachGatewayOrder(gateway, orderID, sessionID string, now time.Time) error {
	if b.Status != BookingStatusPending {
		return fmt.Errorf("%w: attach order to %s booking", ErrInvalidTransition, b.Status)
	}
	b.PaymentGateway = gateway
	b.GatewayOrderID = orderID
	b.PaymentSessionID = sessionID
	b.UpdatedAt = now
	return nil
}

// CanClaimEmail сообщает, можно ли взять lock на отправку письма.
// Просроченный lock (процесс упал посреди отправки) можно перехватить.
func (e EmailDispatch) CanClaimEmail(now time.Time, lockTTL time.Duration) error {
	if !e.SentAt.IsZero() {
		return ErrEmailAlreadySent
	}
	if e.LockID != "" && now.Sub(e.LockAt) < lockTTL {
		return ErrEmailLockHeld
	}
	return nil
}
