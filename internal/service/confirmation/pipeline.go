package confirmation

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
)

const defaultDedupTTL = 24 * time.Hour

// Outcome — итог обработки одной доставки.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeLatePayment      Outcome = "late_payment"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyTerminal  Outcome = "already_terminal"
	OutcomeIgnoredStatus    Outcome = "ignored_status"
	OutcomeUnknownOrder     Outcome = "unknown_order"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeInProgress       Outcome = "in_progress"
	OutcomeError            Outcome = "error"
	OutcomeRejected         Outcome = "rejected"
)

// Delivery — сырая доставка webhook.
type Delivery struct {
	Timestamp string
	Signature string
	Body      []byte
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithDeliveryDedup включает учёт обработанных доставок.
func WithDeliveryDedup(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.dedup = repo
		if ttl > 0 {
			p.dedupTTL = ttl
		}
	}
}

// Pipeline обрабатывает уведомления платёжного шлюза.
type Pipeline struct {
	signer      *Signer
	bookings    domain.BookingRepository
	transitions *lifecycle.Transitioner

	dedup    domain.IdempotencyRepository
	dedupTTL time.Duration
	metrics  *metrics.BookingMetrics
	logger   *log.Entry
}

// NewPipeline создаёт обработчик webhook.
func NewPipeline(signer *Signer, bookings domain.BookingRepository, transitions *lifecycle.Transitioner, options ...Option) *Pipeline {
	p := &Pipeline{
		signer:      signer,
		bookings:    bookings,
		transitions: transitions,
		dedupTTL:    defaultDedupTTL,
	}
	for _, option := range options {
		option(p)
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "confirmation-pipeline")
	}
	return p
}

// HandleGatewayCallback проверяет подпись, разбирает уведомление и применяет его к бронированию.
// Ошибку возвращают только неверная подпись (ErrSignature) и неразборчивое тело (ErrInvalidPayload).
// Остальные сбои логируются, а доставка считается принятой: восстановление выполняют сверка и sweeper.
func (p *Pipeline) HandleGatewayCallback(ctx context.Context, d Delivery) (Outcome, error) {
	if err := p.signer.Verify(d.Timestamp, d.Signature, d.Body); err != nil {
		p.metrics.RecordWebhookOutcome(string(OutcomeRejected))
		p.logger.WithError(err).Warn("webhook signature rejected")
		return OutcomeRejected, err
	}

	cb, err := ParseCallback(d.Body)
	if err != nil {
		p.metrics.RecordWebhookOutcome(string(OutcomeRejected))
		p.logger.WithError(err).Warn("webhook payload rejected")
		return OutcomeRejected, err
	}

	logger := p.logger.WithFields(log.Fields{
		"order_id":       cb.OrderID,
		"payment_status": cb.PaymentStatus,
	})

	key := domain.WebhookDeliveryKey(d.Timestamp, d.Signature)
	if outcome, skip := p.claimDelivery(ctx, key, d.Body, logger); skip {
		p.metrics.RecordWebhookOutcome(string(outcome))
		return outcome, nil
	}

	outcome, err := p.apply(ctx, cb, logger)
	if err != nil {
		outcome = OutcomeError
		logger.WithError(err).Error("webhook processing failed")
	}
	p.finishDelivery(ctx, key, outcome, err != nil, logger)
	p.metrics.RecordWebhookOutcome(string(outcome))
	return outcome, nil
}

func (p *Pipeline) apply(ctx context.Context, cb Callback, logger *log.Entry) (Outcome, error) {
	booking, err := p.bookings.FindByGatewayOrderID(ctx, cb.OrderID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		logger.Info("webhook for unknown order ignored")
		return OutcomeUnknownOrder, nil
	}
	if err != nil {
		return OutcomeError, err
	}
	logger = logger.WithField("booking_id", booking.ID)

	result := cb.Result()
	if mismatch(cb, result, booking) {
		logger.WithFields(log.Fields{
			"booking_amount": booking.TotalAmountMinor,
			"payload_amount": cb.AmountMinor,
			"has_amount":     cb.HasAmount,
		}).Warn("webhook amount does not match booking total")
		return OutcomeAmountMismatch, nil
	}

	if booking.IsConfirmed() {
		return OutcomeAlreadyConfirmed, nil
	}

	switch result {
	case PaymentSucceeded:
		res, err := p.transitions.Confirm(ctx, booking.ID, metrics.SourceWebhook)
		if err != nil {
			return OutcomeError, err
		}
		return fromLifecycle(res.Outcome), nil
	case PaymentFailed:
		res, err := p.transitions.Cancel(ctx, booking.ID, metrics.SourceWebhook)
		if err != nil {
			return OutcomeError, err
		}
		return fromLifecycle(res.Outcome), nil
	default:
		logger.Debug("webhook status does not change booking")
		return OutcomeIgnoredStatus, nil
	}
}

// mismatch: успешный платёж без суммы тоже считается несовпадением, так как его нельзя проверить.
func mismatch(cb Callback, result PaymentResult, booking domain.Booking) bool {
	if !cb.HasAmount {
		return result == PaymentSucceeded
	}
	return cb.AmountMinor != booking.TotalAmountMinor
}

func fromLifecycle(outcome lifecycle.Outcome) Outcome {
	switch outcome {
	case lifecycle.OutcomeConfirmed:
		return OutcomeConfirmed
	case lifecycle.OutcomeAlreadyConfirmed:
		return OutcomeAlreadyConfirmed
	case lifecycle.OutcomeLatePayment:
		return OutcomeLatePayment
	case lifecycle.OutcomeCancelled:
		return OutcomeCancelled
	default:
		return OutcomeAlreadyTerminal
	}
}

// claimDelivery занимает ключ доставки. skip=true означает, что доставку обрабатывать не нужно.
// Сбой хранилища ключей не блокирует обработку: переходы бронирования идемпотентны сами по себе.
func (p *Pipeline) claimDelivery(ctx context.Context, key string, body []byte, logger *log.Entry) (Outcome, bool) {
	if p.dedup == nil {
		return "", false
	}

	record, err := p.dedup.CreateProcessing(ctx, key, domain.PayloadHash(body), time.Now().UTC().Add(p.dedupTTL))
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			logger.WithField("previous_outcome", record.Outcome).Debug("duplicate webhook delivery skipped")
			return OutcomeDuplicate, true
		case domain.IdempotencyStatusProcessing:
			logger.Info("webhook delivery is already being processed")
			return OutcomeInProgress, true
		default:
			return "", false
		}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		logger.Warn("webhook delivery key reused with a different body")
		return OutcomeDuplicate, true
	default:
		logger.WithError(err).Warn("failed to record webhook delivery")
		return "", false
	}
}

func (p *Pipeline) finishDelivery(ctx context.Context, key string, outcome Outcome, failed bool, logger *log.Entry) {
	if p.dedup == nil {
		return
	}
	var err error
	if failed {
		err = p.dedup.MarkFailed(ctx, key, string(outcome))
	} else {
		err = p.dedup.MarkDone(ctx, key, string(outcome))
	}
	if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		logger.WithError(err).Warn("failed to update webhook delivery record")
	}
}
