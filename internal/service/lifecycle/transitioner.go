// Package lifecycle содержит общие транзакционные переходы бронирования,
// которыми пользуются webhook, сверка со шлюзом и sweeper.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
)

// Outcome описывает, что сделал переход.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeLatePayment      Outcome = "late_payment"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeExpired          Outcome = "expired"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyTerminal  Outcome = "already_terminal"
	OutcomeReleased         Outcome = "released"
	OutcomeNothingToRelease Outcome = "nothing_to_release"
)

// Changed сообщает, что переход изменил статус бронирования.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeConfirmed, OutcomeCancelled, OutcomeExpired, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Result — итог перехода.
type Result struct {
	Booking domain.Booking
	Outcome Outcome
	// Released — резерв возвращён в этой же транзакции.
	Released bool
	// ReleaseDeferred — статус зафиксирован без возврата резерва, возврат выполнит sweeper.
	ReleaseDeferred bool
	// GhostEvent — документ события не найден, возврат пропущен.
	GhostEvent bool
}

// Option настраивает Transitioner.
type Option func(*Transitioner)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(t *Transitioner) {
		t.logger = logger
	}
}

// WithMetrics задаёт метрики бронирований.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(t *Transitioner) {
		t.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(t *Transitioner) {
		t.now = now
	}
}

// WithTicketIDGenerator подменяет генератор идентификаторов билетов.
func WithTicketIDGenerator(next func() string) Option {
	return func(t *Transitioner) {
		t.newTicketID = next
	}
}

// Transitioner выполняет переходы состояния бронирования в транзакциях хранилища.
type Transitioner struct {
	store       domain.TxRunner
	metrics     *metrics.BookingMetrics
	logger      *log.Entry
	now         func() time.Time
	newTicketID func() string
}

// New создаёт Transitioner поверх транзакционного хранилища.
func New(store domain.TxRunner, options ...Option) *Transitioner {
	t := &Transitioner{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		newTicketID: shortuuid.New,
	}
	for _, option := range options {
		option(t)
	}
	if t.logger == nil {
		t.logger = log.WithField("component", "booking-lifecycle")
	}
	return t
}

// Confirm переводит PENDING-бронирование в (CONFIRMED, SUCCESS) и ставит в outbox
// задачи аналитики, письма и аудита. Повтор для подтверждённого бронирования ничего не пишет.
// Оплата уже закрытого бронирования не применяется и фиксируется в outbox для операторов.
func (t *Transitioner) Confirm(ctx context.Context, bookingID, source string) (Result, error) {
	ticketID := t.newTicketID()
	started := time.Now()

	var result Result
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result = Result{}
		now := t.now()

		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}

		switch {
		case booking.IsConfirmed():
			result = Result{Booking: booking, Outcome: OutcomeAlreadyConfirmed}
			return nil
		case booking.Status.IsTerminalFailure():
			result = Result{Booking: booking, Outcome: OutcomeLatePayment}
			return enqueueBookingEvent(ctx, tx, domain.EventTypePaymentAfterTerminal, booking, booking.Status, now)
		}

		previous := booking.Status
		if err := booking.Confirm(ticketID, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, booking); err != nil {
			return err
		}
		for _, eventType := range []string{
			domain.EventTypeBookingConfirmedAnalytics,
			domain.EventTypeBookingConfirmedNotification,
			domain.EventTypeBookingStatusChanged,
		} {
			if err := enqueueBookingEvent(ctx, tx, eventType, booking, previous, now); err != nil {
				return err
			}
		}

		result = Result{Booking: booking, Outcome: OutcomeConfirmed}
		return nil
	})
	t.metrics.RecordTxDuration("confirm", time.Since(started))
	if err != nil {
		return Result{}, fmt.Errorf("confirm booking %s: %w", bookingID, err)
	}

	logger := t.logger.WithFields(log.Fields{
		"booking_id": bookingID,
		"source":     source,
		"outcome":    result.Outcome,
	})
	switch result.Outcome {
	case OutcomeConfirmed:
		t.metrics.RecordTransition(string(domain.BookingStatusConfirmed), source)
		logger.WithField("ticket_id", result.Booking.TicketID).Info("booking confirmed")
	case OutcomeLatePayment:
		logger.WithField("status", result.Booking.Status).Warn("payment succeeded for a closed booking")
	default:
		logger.Debug("booking already confirmed")
	}
	return result, nil
}

// Cancel переводит PENDING-бронирование в (CANCELLED, FAILED) и возвращает резерв в той же транзакции.
// Если такая транзакция не прошла, статус фиксируется отдельной транзакцией без возврата резерва,
// а возврат остаётся для RepairRelease.
func (t *Transitioner) Cancel(ctx context.Context, bookingID, source string) (Result, error) {
	return t.terminate(ctx, bookingID, domain.BookingStatusCancelled, source, true)
}

// Fail переводит PENDING-бронирование в (FAILED, FAILED) с возвратом резерва.
func (t *Transitioner) Fail(ctx context.Context, bookingID, source string) (Result, error) {
	return t.terminate(ctx, bookingID, domain.BookingStatusFailed, source, true)
}

// Expire переводит PENDING-бронирование в (EXPIRED, FAILED) с возвратом резерва одной транзакцией.
// Бронирование, которое уже не PENDING, пропускается.
func (t *Transitioner) Expire(ctx context.Context, bookingID string) (Result, error) {
	return t.terminate(ctx, bookingID, domain.BookingStatusExpired, metrics.SourceSweeper, false)
}

// RepairRelease возвращает резерв закрытого неподтверждённого бронирования, если он ещё не возвращён.
func (t *Transitioner) RepairRelease(ctx context.Context, bookingID string) (Result, error) {
	started := time.Now()

	var result Result
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result = Result{}
		now := t.now()

		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !booking.NeedsRelease() {
			result = Result{Booking: booking, Outcome: OutcomeNothingToRelease}
			return nil
		}

		ghost, err := releaseInTx(ctx, tx, &booking, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, booking); err != nil {
			return err
		}

		result = Result{Booking: booking, Outcome: OutcomeReleased, Released: !ghost, GhostEvent: ghost}
		return nil
	})
	t.metrics.RecordTxDuration("repair_release", time.Since(started))
	if err != nil {
		t.metrics.RecordRelease("repair_error")
		return Result{}, fmt.Errorf("repair release for booking %s: %w", bookingID, err)
	}

	if result.Outcome == OutcomeReleased {
		t.metrics.RecordRelease("repaired")
		t.logger.WithFields(log.Fields{
			"booking_id":  bookingID,
			"ghost_event": result.GhostEvent,
		}).Info("deferred inventory release completed")
	}
	return result, nil
}

func (t *Transitioner) terminate(ctx context.Context, bookingID string, target domain.BookingStatus, source string, allowDeferred bool) (Result, error) {
	started := time.Now()
	operation := "terminate_" + string(target)

	result, err := t.terminateInTx(ctx, bookingID, target, true)
	t.metrics.RecordTxDuration(operation, time.Since(started))

	if err != nil && allowDeferred && releaseFailureIsRecoverable(err) {
		t.logger.WithError(err).WithFields(log.Fields{
			"booking_id": bookingID,
			"status":     target,
		}).Warn("release transaction failed, landing status without release")

		result, err = t.terminateInTx(ctx, bookingID, target, false)
		if err == nil && result.Outcome.Changed() {
			result.ReleaseDeferred = result.Booking.NeedsRelease()
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s booking %s: %w", outcomeFor(target), bookingID, err)
	}

	if result.Outcome.Changed() {
		t.metrics.RecordTransition(string(target), source)
		switch {
		case result.Released:
			t.metrics.RecordRelease("released")
		case result.ReleaseDeferred:
			t.metrics.RecordRelease("deferred")
		case result.GhostEvent:
			t.metrics.RecordRelease("ghost_event")
		}
		t.logger.WithFields(log.Fields{
			"booking_id":       bookingID,
			"status":           target,
			"source":           source,
			"released":         result.Released,
			"release_deferred": result.ReleaseDeferred,
			"ghost_event":      result.GhostEvent,
		}).Info("booking closed")
	}
	return result, nil
}

func (t *Transitioner) terminateInTx(ctx context.Context, bookingID string, target domain.BookingStatus, withRelease bool) (Result, error) {
	var result Result
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result = Result{}
		now := t.now()

		booking, err := tx.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		switch {
		case booking.IsConfirmed():
			result = Result{Booking: booking, Outcome: OutcomeAlreadyConfirmed}
			return nil
		case booking.Status.IsTerminal():
			result = Result{Booking: booking, Outcome: OutcomeAlreadyTerminal}
			return nil
		}

		previous := booking.Status
		if err := applyTerminal(&booking, target, now); err != nil {
			return err
		}

		var ghost bool
		if withRelease {
			if ghost, err = releaseInTx(ctx, tx, &booking, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateBooking(ctx, booking); err != nil {
			return err
		}
		if err := enqueueBookingEvent(ctx, tx, domain.EventTypeBookingStatusChanged, booking, previous, now); err != nil {
			return err
		}

		result = Result{
			Booking:    booking,
			Outcome:    outcomeFor(target),
			Released:   withRelease && !ghost && len(booking.Reservation.Items) > 0,
			GhostEvent: ghost,
		}
		return nil
	})
	return result, err
}

// releaseInTx возвращает резерв бронирования в документ события и отмечает возврат.
// Отсутствующее событие возвращает ghost=true: возвращать некуда, бронирование всё равно закрывается.
func releaseInTx(ctx context.Context, tx domain.Tx, booking *domain.Booking, now time.Time) (ghost bool, err error) {
	if !booking.Reservation.Held() {
		return false, nil
	}

	event, err := tx.GetEvent(ctx, booking.EventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		booking.MarkReleased(now)
		return true, nil
	}
	if err != nil {
		return false, err
	}

	event.MigrateLegacyInventory()
	event.Release(booking.Reservation.Items)
	if err := tx.SaveEvent(ctx, event); err != nil {
		return false, err
	}
	booking.MarkReleased(now)
	return false, nil
}

func applyTerminal(booking *domain.Booking, target domain.BookingStatus, now time.Time) error {
	switch target {
	case domain.BookingStatusCancelled:
		return booking.Cancel(now)
	case domain.BookingStatusExpired:
		return booking.Expire(now)
	case domain.BookingStatusFailed:
		return booking.Fail(now)
	default:
		return fmt.Errorf("%w: unsupported target %s", domain.ErrInvalidTransition, target)
	}
}

func outcomeFor(target domain.BookingStatus) Outcome {
	switch target {
	case domain.BookingStatusCancelled:
		return OutcomeCancelled
	case domain.BookingStatusExpired:
		return OutcomeExpired
	default:
		return OutcomeFailed
	}
}

// releaseFailureIsRecoverable сообщает, что статус можно зафиксировать без возврата резерва.
func releaseFailureIsRecoverable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrBookingNotFound), errors.Is(err, domain.ErrInvalidTransition):
		return false
	default:
		return true
	}
}

func enqueueBookingEvent(ctx context.Context, tx domain.Tx, eventType string, booking domain.Booking, previous domain.BookingStatus, at time.Time) error {
	msg, err := domain.NewBookingOutboxMessage(eventType, domain.NewBookingEvent(booking, previous, at))
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, msg)
}
