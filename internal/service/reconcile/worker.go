package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// JobName — имя аренды плановой сверки.
const JobName = "booking-reconcile"

const (
	defaultWorkerInterval = time.Minute
	defaultGracePeriod    = 2 * time.Minute
	defaultWorkerBatch    = 50
)

var reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "boxoffice_reconcile_runs_total",
	Help: "Total number of scheduled reconciliation runs grouped by result.",
}, []string{"result"})

// WorkerConfig задаёт параметры плановой сверки.
type WorkerConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

// Worker периодически сверяет PENDING-бронирования с открытым заказом шлюза.
type Worker struct {
	service  *Service
	bookings domain.BookingRepository
	locker   domain.JobLocker
	cfg      WorkerConfig
	logger   *log.Entry
	now      func() time.Time
}

// NewWorker создаёт воркер сверки. locker может быть nil: тогда аренда не берётся.
func NewWorker(service *Service, bookings domain.BookingRepository, locker domain.JobLocker, cfg WorkerConfig, logger *log.Entry) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultWorkerInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultWorkerBatch
	}
	if logger == nil {
		logger = log.WithField("component", "reconcile-worker")
	}
	return &Worker{
		service:  service,
		bookings: bookings,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run выполняет сверку по тикеру до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Warn("scheduled reconciliation failed")
			}
		}
	}
}

// RunOnce сверяет одну порцию бронирований, ожидающих оплаты дольше grace-периода.
// Возвращает число изменённых бронирований.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.locker != nil {
		release, acquired, err := w.locker.TryAcquire(ctx, JobName, w.cfg.Interval)
		if err != nil {
			reconcileRunsTotal.WithLabelValues("lock_error").Inc()
			return 0, err
		}
		if !acquired {
			reconcileRunsTotal.WithLabelValues("skipped").Inc()
			return 0, nil
		}
		defer release()
	}

	candidates, err := w.bookings.ListAwaitingPayment(ctx, w.now().Add(-w.cfg.GracePeriod), w.cfg.BatchSize)
	if err != nil {
		reconcileRunsTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	if len(candidates) == 0 {
		reconcileRunsTotal.WithLabelValues("empty").Inc()
		return 0, nil
	}

	updated, failed := w.service.ReconcileBookings(ctx, candidates)
	reconcileRunsTotal.WithLabelValues("ok").Inc()
	w.logger.WithFields(log.Fields{
		"candidates": len(candidates),
		"updated":    updated,
		"failed":     failed,
	}).Info("scheduled reconciliation completed")
	return updated, nil
}
