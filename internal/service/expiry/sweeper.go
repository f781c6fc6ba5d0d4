package expiry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
)

// JobName — имя аренды sweeper.
const JobName = "booking-expiry-sweep"

const (
	// DefaultThreshold — сколько PENDING-бронирование ждёт оплату до снятия.
	DefaultThreshold   = 15 * time.Minute
	defaultBatchSize   = 50
	defaultInterval    = time.Minute
	defaultRepairBatch = 50
)

// BookingError — ошибка по одному бронированию в проходе sweeper.
type BookingError struct {
	BookingID string `json:"bookingId"`
	Error     string `json:"error"`
}

// SweepResult — итог одного прохода.
type SweepResult struct {
	Cleaned  int            `json:"cleaned"`
	Failed   int            `json:"failed"`
	Total    int            `json:"total"`
	Repaired int            `json:"repaired,omitempty"`
	Errors   []BookingError `json:"errors,omitempty"`
}

// Config задаёт параметры sweeper.
type Config struct {
	Threshold   time.Duration
	BatchSize   int
	Interval    time.Duration
	RepairBatch int
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithJobLocker включает аренду на каждый тик Run.
func WithJobLocker(locker domain.JobLocker) Option {
	return func(s *Sweeper) {
		s.locker = locker
	}
}

// Sweeper снимает брошенные PENDING-бронирования и возвращает их резерв.
type Sweeper struct {
	bookings    domain.BookingRepository
	transitions *lifecycle.Transitioner
	cfg         Config

	locker  domain.JobLocker
	metrics *metrics.BookingMetrics
	logger  *log.Entry
}

// NewSweeper создаёт sweeper.
func NewSweeper(bookings domain.BookingRepository, transitions *lifecycle.Transitioner, cfg Config, options ...Option) *Sweeper {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RepairBatch <= 0 {
		cfg.RepairBatch = defaultRepairBatch
	}

	s := &Sweeper{
		bookings:    bookings,
		transitions: transitions,
		cfg:         cfg,
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "expiry-sweeper")
	}
	return s
}

// SweepOnce снимает до BatchSize PENDING-бронирований старше порога, затем
// повторяет возврат резерва для закрытых бронирований, где он не выполнился.
// Каждое бронирование обрабатывается отдельной транзакцией; ошибка одного не прерывает проход.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	stale, err := s.bookings.ListPendingCreatedBefore(ctx, now.Add(-s.cfg.Threshold), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Total: len(stale)}
	for _, booking := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := s.transitions.Expire(ctx, booking.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BookingError{BookingID: booking.ID, Error: err.Error()})
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("failed to expire booking")
			continue
		}
		if res.Outcome == lifecycle.OutcomeExpired {
			result.Cleaned++
		}
	}

	result.Repaired = s.repair(ctx, &result)
	s.metrics.RecordSweep(result.Cleaned, result.Failed)

	if result.Total > 0 || result.Repaired > 0 || result.Failed > 0 {
		s.logger.WithFields(log.Fields{
			"cleaned":  result.Cleaned,
			"failed":   result.Failed,
			"total":    result.Total,
			"repaired": result.Repaired,
		}).Info("expiry sweep completed")
	}
	return result, nil
}

func (s *Sweeper) repair(ctx context.Context, result *SweepResult) int {
	unreleased, err := s.bookings.ListUnreleased(ctx, s.cfg.RepairBatch)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list unreleased reservations")
		return 0
	}

	repaired := 0
	for _, booking := range unreleased {
		if ctx.Err() != nil {
			break
		}
		res, err := s.transitions.RepairRelease(ctx, booking.ID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BookingError{BookingID: booking.ID, Error: err.Error()})
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("failed to repair reservation release")
			continue
		}
		if res.Outcome == lifecycle.OutcomeReleased {
			repaired++
		}
	}
	return repaired
}

// Run выполняет SweepOnce по тикеру до отмены ctx, под арендой, если она задана.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.locker != nil {
		release, acquired, err := s.locker.TryAcquire(ctx, JobName, s.cfg.Interval)
		if err != nil {
			s.logger.WithError(err).Warn("failed to acquire sweep lease")
			return
		}
		if !acquired {
			return
		}
		defer release()
	}

	if _, err := s.SweepOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Warn("expiry sweep failed")
	}
}
