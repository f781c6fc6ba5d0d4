package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// JobName — имя аренды, под которой чистятся ключи доставок.
const JobName = "webhook-delivery-keys-cleanup"

const (
	defaultInterval   = 10 * time.Minute
	defaultBatchSize  = 500
	defaultMaxBatches = 50
)

var (
	purgeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxoffice_webhook_keys_purge_runs_total",
		Help: "Webhook delivery key purge runs grouped by result.",
	}, []string{"result"})
	purgedKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boxoffice_webhook_keys_purged_total",
		Help: "Expired webhook delivery keys deleted.",
	})
)

// Option настраивает Janitor.
type Option func(*Janitor)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithJobLocker задаёт аренду: в каждый тик чистит один экземпляр.
func WithJobLocker(locker domain.JobLocker) Option {
	return func(j *Janitor) {
		j.locker = locker
	}
}

// WithInterval задаёт период фоновой очистки.
func WithInterval(interval time.Duration) Option {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithBatchSize задаёт число ключей, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(j *Janitor) {
		if size > 0 {
			j.batchSize = size
		}
	}
}

// WithMaxBatches ограничивает число запросов за один проход.
func WithMaxBatches(n int) Option {
	return func(j *Janitor) {
		if n > 0 {
			j.maxBatches = n
		}
	}
}

// Report — итог одного прохода очистки.
type Report struct {
	Deleted int `json:"deleted"`
	Batches int `json:"batches"`
	// Truncated — проход остановлен на лимите запросов, просроченные ключи ещё остались.
	Truncated bool `json:"truncated"`
}

// Janitor удаляет ключи доставок webhook с истёкшим сроком.
type Janitor struct {
	repo   domain.IdempotencyRepository
	locker domain.JobLocker
	logger *log.Entry

	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func NewJanitor(repo domain.IdempotencyRepository, options ...Option) *Janitor {
	j := &Janitor{
		repo:       repo,
		logger:     log.WithField("component", "webhook-keys-janitor"),
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(j)
	}
	return j
}

// Run чистит ключи сразу и затем по тикеру до отмены ctx.
func (j *Janitor) Run(ctx context.Context) {
	if j.repo == nil {
		j.logger.Warn("webhook key janitor disabled: repository is missing")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	if j.locker != nil {
		release, acquired, err := j.locker.TryAcquire(ctx, JobName, j.interval)
		if err != nil {
			purgeRuns.WithLabelValues("lock_error").Inc()
			j.logger.WithError(err).Warn("failed to acquire janitor lease")
			return
		}
		if !acquired {
			purgeRuns.WithLabelValues("skipped").Inc()
			return
		}
		defer release()
	}

	report, err := j.Purge(ctx, j.now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		purgeRuns.WithLabelValues("error").Inc()
		j.logger.WithError(err).WithField("deleted", report.Deleted).Warn("webhook key purge failed")
		return
	}

	purgeRuns.WithLabelValues("ok").Inc()
	if report.Deleted > 0 {
		j.logger.WithFields(log.Fields{
			"deleted":   report.Deleted,
			"batches":   report.Batches,
			"truncated": report.Truncated,
		}).Info("expired webhook keys purged")
	}
}

// Purge удаляет ключи с ttl <= before порциями, пока порция полная и не исчерпан лимит.
// При ошибке Report содержит уже удалённое.
func (j *Janitor) Purge(ctx context.Context, before time.Time) (Report, error) {
	if before.IsZero() {
		before = j.now()
	}

	var report Report
	for report.Batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		deleted, err := j.repo.DeleteExpired(ctx, before, j.batchSize)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += deleted
		purgedKeys.Add(float64(deleted))

		if deleted < j.batchSize {
			return report, nil
		}
	}
	report.Truncated = true
	return report, nil
}
