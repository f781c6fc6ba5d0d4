package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
)

const defaultLockTTL = 5 * time.Minute

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithLockTTL задаёт срок, после которого lock упавшего отправителя можно перехватить.
func WithLockTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

// Dispatcher передаёт задание на письмо подтверждения не больше одного раза на бронирование.
type Dispatcher struct {
	bookings  domain.BookingRepository
	publisher domain.NotificationPublisher

	lockTTL time.Duration
	metrics *metrics.BookingMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewDispatcher создаёт отправителя писем подтверждения.
func NewDispatcher(bookings domain.BookingRepository, publisher domain.NotificationPublisher, options ...Option) *Dispatcher {
	d := &Dispatcher{
		bookings:  bookings,
		publisher: publisher,
		lockTTL:   defaultLockTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(d)
	}
	if d.logger == nil {
		d.logger = log.WithField("component", "notification")
	}
	return d
}

// SendConfirmation берёт lock письма, публикует задание и отмечает результат.
// Уже отправленное письмо и lock другого отправителя не считаются ошибкой.
func (d *Dispatcher) SendConfirmation(ctx context.Context, bookingID string) error {
	logger := d.logger.WithField("booking_id", bookingID)
	lockID := uuid.NewString()

	booking, err := d.bookings.ClaimEmailLock(ctx, bookingID, lockID, d.now(), d.lockTTL)
	switch {
	case errors.Is(err, domain.ErrEmailAlreadySent):
		d.metrics.RecordNotification("already_sent")
		logger.Debug("confirmation email already sent")
		return nil
	case errors.Is(err, domain.ErrEmailLockHeld):
		d.metrics.RecordNotification("locked")
		logger.Info("confirmation email is being sent by another worker")
		return nil
	case errors.Is(err, domain.ErrBookingNotFound):
		d.metrics.RecordNotification("skipped")
		logger.Warn("confirmation email skipped: booking not found")
		return nil
	case err != nil:
		d.metrics.RecordNotification("error")
		return fmt.Errorf("claim email lock for booking %s: %w", bookingID, err)
	}

	if !booking.IsConfirmed() {
		d.metrics.RecordNotification("skipped")
		logger.WithField("status", booking.Status).Warn("confirmation email skipped: booking is not confirmed")
		if err := d.bookings.MarkEmailFailed(ctx, bookingID, lockID, "booking is not confirmed", d.now()); err != nil {
			logger.WithError(err).Warn("failed to release email lock")
		}
		return nil
	}

	if err := d.publisher.PublishConfirmation(ctx, noticeFor(booking)); err != nil {
		d.metrics.RecordNotification("error")
		if markErr := d.bookings.MarkEmailFailed(ctx, bookingID, lockID, err.Error(), d.now()); markErr != nil {
			logger.WithError(markErr).Warn("failed to record email failure")
		}
		return fmt.Errorf("publish confirmation for booking %s: %w", bookingID, err)
	}

	if err := d.bookings.MarkEmailSent(ctx, bookingID, lockID, d.now()); err != nil {
		logger.WithError(err).Warn("confirmation published but sent marker was not stored")
	}
	d.metrics.RecordNotification("sent")
	logger.WithField("ticket_id", booking.TicketID).Info("confirmation email queued")
	return nil
}

// HandleOutboxMessage — обработчик booking.confirmed.notification для outbox dispatcher.
// Ошибка публикации возвращается, чтобы outbox повторил доставку.
func (d *Dispatcher) HandleOutboxMessage(ctx context.Context, msg domain.OutboxMessage) error {
	event, err := domain.DecodeBookingEvent(msg)
	if err != nil {
		d.logger.WithError(err).WithField("message_id", msg.ID).Warn("notification message dropped")
		return nil
	}
	return d.SendConfirmation(ctx, event.BookingID)
}

func noticeFor(b domain.Booking) domain.ConfirmationNotice {
	notice := domain.ConfirmationNotice{
		BookingID:        b.ID,
		UserID:           b.UserID,
		EventID:          b.EventID,
		TicketID:         b.TicketID,
		TicketCount:      b.TicketCount(),
		TotalAmountMinor: b.TotalAmountMinor,
		Currency:         b.Currency,
		ConfirmedAt:      b.ConfirmedAt,
	}
	if !b.Show.IsZero() {
		show := b.Show
		notice.Show = &show
	}
	return notice
}
