package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

var (
	outboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxoffice_outbox_deliveries_total",
		Help: "Outbox delivery outcomes grouped by event type and result.",
	}, []string{"event_type", "result"})
	outboxBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "boxoffice_outbox_backlog_records",
		Help: "Outbox records grouped by state (pending or failed).",
	}, []string{"state"})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxoffice_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт получателя записей о недоставленных сообщениях.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт размер порции.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток доставки до перевода в failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.retryBaseDelay = delay
		}
	}
}

// Worker доставляет pending-сообщения outbox в брокер или в локальный Dispatcher.
// Сообщения одного бронирования доставляются по порядку: после сбоя остальные
// сообщения этого бронирования в порции ждут следующего цикла.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher is missing")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce обрабатывает одну порцию и возвращает число доставленных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	_, delivered := w.processBatch(ctx)
	return delivered
}

// Drain обрабатывает порции, пока backlog не станет меньше порции или цикл
// перестанет продвигаться. Вызывается при остановке сервиса.
func (w *Worker) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		pulled, delivered := w.processBatch(ctx)
		total += delivered
		if pulled < w.batchSize || delivered == 0 {
			break
		}
	}
	return total
}

// ReplayFailed возвращает до limit failed-сообщений в pending.
func (w *Worker) ReplayFailed(ctx context.Context, limit int) (int, error) {
	requeued, err := w.repo.RequeueFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}
	if requeued > 0 {
		w.logger.WithField("requeued", requeued).Info("failed outbox messages requeued")
	}
	return requeued, nil
}

func (w *Worker) processBatch(ctx context.Context) (pulled, delivered int) {
	if ctx.Err() != nil {
		return 0, 0
	}
	w.refreshBacklog(ctx)
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0, 0
	}

	blocked := make(map[string]struct{})
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"booking_id": msg.AggregateID,
		})
		if _, ok := blocked[msg.AggregateID]; ok && msg.AggregateID != "" {
			outboxDeliveries.WithLabelValues(msg.EventType, "deferred").Inc()
			logger.Debug("outbox message deferred behind an earlier failure")
			continue
		}

		attempts, err := w.deliver(ctx, msg)
		if err == nil {
			outboxDeliveries.WithLabelValues(msg.EventType, "sent").Inc()
			if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
				logger.WithError(markErr).Warn("delivered outbox message was not marked sent")
			}
			delivered++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		blocked[msg.AggregateID] = struct{}{}
		outboxDeliveries.WithLabelValues(msg.EventType, "failed").Inc()
		logger.WithError(err).WithField("attempts", attempts).Error("outbox delivery failed")
		w.deadLetter(ctx, msg, err, attempts, logger)
		if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed outbox message was not marked failed")
		}
	}
	return len(batch), delivered
}

// deliver повторяет публикацию с экспоненциальной паузой. Ошибка валидации не повторяется.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	delay := w.retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := w.publisher.Publish(ctx, msg)
		if err == nil {
			return attempt, nil
		}
		if attempt >= w.maxAttempts || domain.Classify(err) == domain.KindValidation {
			return attempt, err
		}
		outboxDeliveries.WithLabelValues(msg.EventType, "retry").Inc()

		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error, attempts int, logger *log.Entry) {
	if w.dlq == nil {
		return
	}
	record, err := domain.NewDeadLetterMessage(msg, cause, attempts, time.Now())
	if err == nil {
		err = w.dlq.Publish(ctx, record)
	}
	if err != nil {
		outboxDeliveries.WithLabelValues(msg.EventType, "dlq_failed").Inc()
		logger.WithError(err).Warn("failed to publish outbox message to DLQ")
	}
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("failed to collect outbox backlog stats")
		return
	}
	outboxBacklog.WithLabelValues("pending").Set(float64(stats.PendingCount))
	outboxBacklog.WithLabelValues("failed").Set(float64(stats.FailedCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	outboxOldestPendingAge.Set(age)
}
