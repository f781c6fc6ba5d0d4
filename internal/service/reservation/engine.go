package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
)

// CreateBookingRequest — входные данные резервирования.
type CreateBookingRequest struct {
	EventID          string
	UserID           string
	LineItems        []domain.LineItem
	TotalAmountMinor int64
	BookingFeeMinor  int64
	Currency         string
	Show             domain.ShowInfo
}

// PaymentSession — платёжная сессия, привязанная к бронированию.
type PaymentSession struct {
	BookingID        string
	Gateway          string
	OrderID          string
	PaymentSessionID string
	// Reused — заказ уже был создан ранее, шлюз повторно не вызывался.
	Reused bool
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics задаёт метрики бронирований.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов бронирований.
func WithIDGenerator(next func() string) Option {
	return func(e *Engine) {
		e.newID = next
	}
}

// WithReturnURL задаёт адрес возврата пользователя после оплаты.
func WithReturnURL(url string) Option {
	return func(e *Engine) {
		e.returnURL = url
	}
}

// Engine создаёт PENDING-бронирования с атомарным резервированием мест
// и открывает для них платёжные сессии.
type Engine struct {
	store     domain.TxRunner
	events    domain.EventRepository
	bookings  domain.BookingRepository
	gateway   domain.PaymentGateway
	lifecycle *lifecycle.Transitioner

	metrics   *metrics.BookingMetrics
	logger    *log.Entry
	now       func() time.Time
	newID     func() string
	returnURL string
}

// NewEngine создаёт движок резервирования.
func NewEngine(
	store domain.TxRunner,
	events domain.EventRepository,
	bookings domain.BookingRepository,
	gateway domain.PaymentGateway,
	transitions *lifecycle.Transitioner,
	options ...Option,
) *Engine {
	e := &Engine{
		store:     store,
		events:    events,
		bookings:  bookings,
		gateway:   gateway,
		lifecycle: transitions,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "reservation-engine")
	}
	return e
}

// CreateBooking проверяет запрос, резервирует места и записывает PENDING-бронирование.
// Счётчики и бронирование пишутся одной транзакцией; событие без ограничений не затрагивается.
// Каждый вызов создаёт новое бронирование.
func (e *Engine) CreateBooking(ctx context.Context, caller domain.Identity, req CreateBookingRequest) (string, error) {
	if err := validateRequest(caller, req); err != nil {
		e.metrics.RecordBookingCreated(resultLabel(err), 0)
		return "", err
	}

	event, err := e.events.Get(ctx, req.EventID)
	if err != nil {
		e.metrics.RecordBookingCreated(resultLabel(err), 0)
		return "", err
	}

	items, err := prepareLineItems(&event, req.LineItems)
	if err != nil {
		e.metrics.RecordBookingCreated(resultLabel(err), 0)
		return "", err
	}
	needsCapacity := event.RequiresCapacity(items)

	bookingID := e.newID()
	started := time.Now()
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := e.now()
		booking := domain.NewPendingBooking(bookingID, caller.UserID, req.EventID, items, now)
		booking.TotalAmountMinor = req.TotalAmountMinor
		booking.BookingFeeMinor = req.BookingFeeMinor
		booking.Currency = req.Currency
		booking.Show = req.Show

		if !needsCapacity {
			return tx.InsertBooking(ctx, booking)
		}

		current, err := tx.GetEvent(ctx, req.EventID)
		if err != nil {
			return err
		}
		txItems, err := prepareLineItems(&current, items)
		if err != nil {
			return err
		}
		reserved, err := current.Reserve(txItems)
		if err != nil {
			return err
		}
		if err := tx.SaveEvent(ctx, current); err != nil {
			return err
		}

		booking.LineItems = txItems
		booking.Reservation.Items = reserved
		return tx.InsertBooking(ctx, booking)
	})
	e.metrics.RecordTxDuration("reserve", time.Since(started))

	tickets := lo.SumBy(items, func(item domain.LineItem) int { return item.Quantity })
	if err != nil {
		e.metrics.RecordBookingCreated(resultLabel(err), tickets)
		if errors.Is(err, domain.ErrSoldOut) {
			e.logger.WithFields(log.Fields{
				"event_id": req.EventID,
				"user_id":  caller.UserID,
				"tickets":  tickets,
			}).Info("reservation rejected: sold out")
			return "", err
		}
		return "", fmt.Errorf("create booking for event %s: %w", req.EventID, err)
	}

	e.metrics.RecordBookingCreated("ok", tickets)
	e.logger.WithFields(log.Fields{
		"booking_id":      bookingID,
		"event_id":        req.EventID,
		"user_id":         caller.UserID,
		"tickets":         tickets,
		"capacity_locked": needsCapacity,
	}).Info("booking reserved")
	return bookingID, nil
}

// InitiatePayment открывает платёжную сессию для PENDING-бронирования.
// Если заказ шлюза уже создан, он переиспользуется без вызова шлюза.
// Шлюз вызывается вне транзакции; окончательный отказ шлюза закрывает бронирование как FAILED.
func (e *Engine) InitiatePayment(ctx context.Context, caller domain.Identity, bookingID string) (PaymentSession, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return PaymentSession{}, domain.ErrUnauthenticated
	}

	booking, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return PaymentSession{}, err
	}
	if booking.UserID != caller.UserID {
		return PaymentSession{}, domain.ErrForbidden
	}
	if booking.Status != domain.BookingStatusPending {
		return PaymentSession{}, fmt.Errorf("%w: booking %s is %s", domain.ErrBookingTerminal, bookingID, booking.Status)
	}
	if booking.GatewayOrderID != "" {
		return sessionOf(booking, true), nil
	}

	started := time.Now()
	order, err := e.gateway.CreateOrder(ctx, domain.GatewayOrderRequest{
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		AmountMinor: booking.TotalAmountMinor,
		Currency:    booking.Currency,
		ReturnURL:   e.returnURL,
	})
	e.metrics.RecordGatewayCall("create_order", err, time.Since(started))
	if err != nil {
		if errors.Is(err, domain.ErrGatewayRejected) && e.lifecycle != nil {
			if _, failErr := e.lifecycle.Fail(ctx, bookingID, "payment_session"); failErr != nil {
				e.logger.WithError(failErr).WithField("booking_id", bookingID).Warn("failed to close booking after gateway rejection")
			}
		}
		return PaymentSession{}, fmt.Errorf("create gateway order for booking %s: %w", bookingID, err)
	}

	var session PaymentSession
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if current.GatewayOrderID != "" {
			session = sessionOf(current, true)
			return nil
		}
		if err := current.AttachGatewayOrder(e.gateway.Name(), order.OrderID, order.PaymentSessionID, e.now()); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrBookingTerminal, err)
		}
		if err := tx.UpdateBooking(ctx, current); err != nil {
			return err
		}
		session = sessionOf(current, false)
		return nil
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("attach gateway order to booking %s: %w", bookingID, err)
	}

	if session.OrderID != order.OrderID {
		e.logger.WithFields(log.Fields{
			"booking_id":     bookingID,
			"kept_order_id":  session.OrderID,
			"extra_order_id": order.OrderID,
		}).Warn("concurrent payment initiation created an extra gateway order")
	} else {
		e.logger.WithFields(log.Fields{
			"booking_id": bookingID,
			"order_id":   order.OrderID,
		}).Info("payment session opened")
	}
	return session, nil
}

func sessionOf(booking domain.Booking, reused bool) PaymentSession {
	return PaymentSession{
		BookingID:        booking.ID,
		Gateway:          booking.PaymentGateway,
		OrderID:          booking.GatewayOrderID,
		PaymentSessionID: booking.PaymentSessionID,
		Reused:           reused,
	}
}

func validateRequest(caller domain.Identity, req CreateBookingRequest) error {
	if strings.TrimSpace(caller.UserID) == "" {
		return domain.ErrUnauthenticated
	}
	if req.UserID != "" && req.UserID != caller.UserID {
		return domain.ErrForbidden
	}
	if strings.TrimSpace(req.EventID) == "" {
		return domain.ErrEventIDRequired
	}
	if len(req.LineItems) == 0 {
		return domain.ErrLineItemsRequired
	}
	for _, item := range req.LineItems {
		if item.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		if item.UnitPriceMinor < 0 {
			return fmt.Errorf("%w: unit price must be non-negative", domain.ErrValidation)
		}
	}
	if req.TotalAmountMinor < 0 || req.BookingFeeMinor < 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrAmountNegative)
	}
	return nil
}

// prepareLineItems переводит событие старого формата на типы билетов, привязывает позиции
// к типам и проставляет цену типа там, где клиент её не передал.
func prepareLineItems(event *domain.Event, items []domain.LineItem) ([]domain.LineItem, error) {
	if !event.HasTicketTypes() && event.MaxTickets > 0 {
		items = lo.Map(items, func(item domain.LineItem, _ int) domain.LineItem {
			item.TicketTypeID = domain.LegacyTicketTypeID
			return item
		})
	}
	event.MigrateLegacyInventory()

	resolved, err := event.ResolveLineItems(items)
	if err != nil {
		return nil, err
	}
	for i := range resolved {
		if resolved[i].UnitPriceMinor != 0 {
			continue
		}
		if tt, ok := event.TicketType(resolved[i].TicketTypeID); ok {
			resolved[i].UnitPriceMinor = tt.PriceMinor
		}
	}
	return resolved, nil
}

func resultLabel(err error) string {
	switch domain.Classify(err) {
	case domain.KindValidation:
		return "invalid"
	case domain.KindNotFound:
		return "not_found"
	case domain.KindConflict:
		if errors.Is(err, domain.ErrSoldOut) {
			return "sold_out"
		}
		return "conflict"
	case domain.KindTransientStore:
		return "transient"
	case domain.KindUnauthenticated, domain.KindForbidden:
		return "unauthorized"
	default:
		return "error"
	}
}
