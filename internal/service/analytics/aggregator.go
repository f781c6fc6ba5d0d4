package analytics

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
)

// Option настраивает Aggregator.
type Option func(*Aggregator)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// Aggregator обновляет счётчики продаж организатора, события и показа.
type Aggregator struct {
	events  domain.EventRepository
	repo    domain.AnalyticsRepository
	metrics *metrics.BookingMetrics
	logger  *log.Entry
}

// NewAggregator создаёт агрегатор аналитики.
func NewAggregator(events domain.EventRepository, repo domain.AnalyticsRepository, options ...Option) *Aggregator {
	a := &Aggregator{events: events, repo: repo}
	for _, option := range options {
		option(a)
	}
	if a.logger == nil {
		a.logger = log.WithField("component", "analytics")
	}
	return a
}

// OnConfirmed применяет три независимых инкремента. Сбой одного агрегата не мешает
// остальным; ошибки объединяются и возвращаются, чтобы outbox повторил доставку.
// Уже применённые для этого бронирования агрегаты при повторе пропускаются хранилищем.
func (a *Aggregator) OnConfirmed(ctx context.Context, sale domain.ConfirmedSale) error {
	logger := a.logger.WithFields(log.Fields{
		"booking_id": sale.BookingID,
		"event_id":   sale.EventID,
	})
	if sale.BookingID == "" {
		return fmt.Errorf("%w: analytics sale without booking id", domain.ErrValidation)
	}

	event, err := a.events.Get(ctx, sale.EventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		logger.Warn("analytics skipped: event not resolved")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve event for analytics: %w", err)
	}
	if event.HostID == "" {
		logger.Warn("analytics skipped: event has no host")
		return nil
	}

	tickets := int64(sale.TicketCount)
	var errs []error
	err = a.repo.IncrementHost(ctx, sale.BookingID, event.HostID, tickets, sale.RevenueMinor)
	errs = append(errs, a.record(domain.AnalyticsTargetHost, err, logger))

	err = a.repo.IncrementEvent(ctx, sale.BookingID, sale.EventID, event.HostID, tickets, sale.RevenueMinor)
	errs = append(errs, a.record(domain.AnalyticsTargetEvent, err, logger))

	if sale.Show != nil && !sale.Show.IsZero() {
		err = a.repo.IncrementShow(ctx, sale.BookingID, sale.EventID, event.HostID, *sale.Show, tickets, sale.RevenueMinor)
		errs = append(errs, a.record(domain.AnalyticsTargetShow, err, logger))
	}
	return errors.Join(errs...)
}

// HandleOutboxMessage — обработчик booking.confirmed.analytics для outbox dispatcher.
// Ошибка хранилища возвращается worker'у и приводит к повторной доставке.
func (a *Aggregator) HandleOutboxMessage(ctx context.Context, msg domain.OutboxMessage) error {
	event, err := domain.DecodeBookingEvent(msg)
	if err != nil {
		a.logger.WithError(err).WithField("message_id", msg.ID).Warn("analytics message dropped")
		return nil
	}
	return a.OnConfirmed(ctx, domain.ConfirmedSale{
		BookingID:    event.BookingID,
		EventID:      event.EventID,
		TicketCount:  event.TicketCount,
		RevenueMinor: event.RevenueMinor,
		Show:         event.Show,
	})
}

func (a *Aggregator) record(target string, err error, logger *log.Entry) error {
	a.metrics.RecordAnalyticsUpdate(target, err)
	if err != nil {
		logger.WithError(err).WithField("target", target).Warn("analytics increment failed")
		return fmt.Errorf("%s analytics: %w", target, err)
	}
	return nil
}
