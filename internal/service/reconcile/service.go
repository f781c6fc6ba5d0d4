package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
)

const (
	defaultUserLimit = 100
	defaultScanLimit = 1000
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithScanLimit ограничивает число бронирований, просматриваемых без индекса.
func WithScanLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.scanLimit = limit
		}
	}
}

// Service сверяет PENDING-бронирования со статусом заказа в шлюзе.
type Service struct {
	bookings    domain.BookingRepository
	gateway     domain.PaymentGateway
	transitions *lifecycle.Transitioner

	metrics   *metrics.BookingMetrics
	logger    *log.Entry
	userLimit int
	scanLimit int
}

// NewService создаёт сервис ручного подтверждения и сверки.
func NewService(bookings domain.BookingRepository, gateway domain.PaymentGateway, transitions *lifecycle.Transitioner, options ...Option) *Service {
	s := &Service{
		bookings:    bookings,
		gateway:     gateway,
		transitions: transitions,
		userLimit:   defaultUserLimit,
		scanLimit:   defaultScanLimit,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "reconcile")
	}
	return s
}

// ConfirmManually проверяет оплату бронирования в шлюзе по запросу владельца.
// Возвращает бронирование в актуальном состоянии.
func (s *Service) ConfirmManually(ctx context.Context, caller domain.Identity, bookingID string) (domain.Booking, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return domain.Booking{}, domain.ErrUnauthenticated
	}

	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if booking.UserID != caller.UserID {
		return domain.Booking{}, domain.ErrForbidden
	}
	if booking.Status.IsTerminalFailure() {
		return booking, fmt.Errorf("%w: booking %s is %s", domain.ErrBookingTerminal, bookingID, booking.Status)
	}
	if booking.IsConfirmed() || booking.GatewayOrderID == "" {
		return booking, nil
	}

	updated, _, err := s.reconcileBooking(ctx, booking, metrics.SourceVerify)
	if err != nil {
		return booking, err
	}
	return updated, nil
}

// ReconcileUserBookings сверяет все PENDING-бронирования вызывающего с заказом в шлюзе.
// Ошибки по отдельным бронированиям логируются; возвращается число изменённых.
func (s *Service) ReconcileUserBookings(ctx context.Context, caller domain.Identity) (int, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return 0, domain.ErrUnauthenticated
	}

	candidates, err := s.userPending(ctx, caller.UserID)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, booking := range candidates {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		_, changed, err := s.reconcileBooking(ctx, booking, metrics.SourceReconcile)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("booking reconciliation failed")
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

// ReconcileBookings сверяет переданные бронирования (используется плановой задачей).
func (s *Service) ReconcileBookings(ctx context.Context, bookings []domain.Booking) (updated, failed int) {
	for _, booking := range bookings {
		if ctx.Err() != nil {
			return updated, failed
		}
		_, changed, err := s.reconcileBooking(ctx, booking, metrics.SourceReconcile)
		if err != nil {
			failed++
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("booking reconciliation failed")
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, failed
}

func (s *Service) userPending(ctx context.Context, userID string) ([]domain.Booking, error) {
	bookings, err := s.bookings.ListByUser(ctx, userID, domain.BookingStatusPending, s.userLimit)
	if err == nil {
		return lo.Filter(bookings, func(b domain.Booking, _ int) bool {
			return b.GatewayOrderID != ""
		}), nil
	}
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		return nil, err
	}

	s.logger.WithField("user_id", userID).Warn("user index unavailable, falling back to scan")
	recent, err := s.bookings.ScanRecent(ctx, s.scanLimit)
	if err != nil {
		return nil, err
	}
	return lo.Filter(recent, func(b domain.Booking, _ int) bool {
		return b.UserID == userID && b.Status == domain.BookingStatusPending && b.GatewayOrderID != ""
	}), nil
}

// reconcileBooking запрашивает статус заказа вне транзакции и применяет его через lifecycle.
func (s *Service) reconcileBooking(ctx context.Context, booking domain.Booking, source string) (domain.Booking, bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"booking_id": booking.ID,
		"order_id":   booking.GatewayOrderID,
		"source":     source,
	})

	started := time.Now()
	order, err := s.gateway.GetOrderStatus(ctx, booking.GatewayOrderID)
	s.metrics.RecordGatewayCall("get_order", err, time.Since(started))
	if err != nil {
		s.metrics.RecordReconcileOutcome("gateway_error")
		if !errors.Is(err, domain.ErrGateway) {
			err = fmt.Errorf("%w: %v", domain.ErrGateway, err)
		}
		return booking, false, err
	}

	switch order.Status {
	case domain.GatewayOrderPaid:
		if order.AmountMinor != booking.TotalAmountMinor {
			s.metrics.RecordReconcileOutcome("amount_mismatch")
			logger.WithFields(log.Fields{
				"booking_amount": booking.TotalAmountMinor,
				"order_amount":   order.AmountMinor,
			}).Warn("gateway order amount does not match booking total")
			return booking, false, fmt.Errorf("%w: booking %s", domain.ErrAmountMismatch, booking.ID)
		}
		res, err := s.transitions.Confirm(ctx, booking.ID, source)
		if err != nil {
			s.metrics.RecordReconcileOutcome("error")
			return booking, false, err
		}
		s.metrics.RecordReconcileOutcome(string(res.Outcome))
		return res.Booking, res.Outcome.Changed(), nil

	case domain.GatewayOrderExpired, domain.GatewayOrderTerminated, domain.GatewayOrderCancelled:
		res, err := s.transitions.Cancel(ctx, booking.ID, source)
		if err != nil {
			s.metrics.RecordReconcileOutcome("error")
			return booking, false, err
		}
		if res.ReleaseDeferred {
			logger.Warn("booking cancelled, reservation release deferred to repair pass")
		}
		s.metrics.RecordReconcileOutcome(string(res.Outcome))
		return res.Booking, res.Outcome.Changed(), nil

	default:
		s.metrics.RecordReconcileOutcome("unchanged")
		logger.WithField("order_status", order.Status).Debug("gateway order still open")
		return booking, false, nil
	}
}
