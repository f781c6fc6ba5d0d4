// Package app собирает зависимости сервиса и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/health"
	"github.com/vladislavdragonenkov/boxoffice/internal/httpapi"
	"github.com/vladislavdragonenkov/boxoffice/internal/identity"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/analytics"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/confirmation"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/expiry"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/idempotency"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/notification"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/outbox"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reconcile"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reservation"
	"github.com/vladislavdragonenkov/boxoffice/internal/tracing"
	"github.com/vladislavdragonenkov/boxoffice/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	healthCacheTTL  = time.Second
)

// checkSecrets проверяет секреты до старта. Без BOXOFFICE_CRON_SECRET эндпоинты
// /api/v1/jobs/* открыты, поэтому с postgres-хранилищем пустой секрет запрещён.
func checkSecrets(cfg Config, logger *log.Entry) error {
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret is not configured, every gateway callback will be rejected")
	}
	if cfg.CronSecret == "" {
		if cfg.StorageDriver == StorageDriverPostgres {
			return errors.New("BOXOFFICE_CRON_SECRET is required with the postgres storage driver")
		}
		logger.Warn("cron secret is not configured, job endpoints accept unauthenticated calls")
	}
	return nil
}

// Run поднимает HTTP API, сервер метрик и фоновые воркеры и ждёт отмены ctx.
// Возвращает ctx.Err() после штатной остановки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := checkSecrets(cfg, logger); err != nil {
		return err
	}

	tp, err := tracing.ConfigureTraceProvider(cfg.JaegerEndpoint, version.Version())
	if err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	verifier, err := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	bookingMetrics := metrics.NewBookingMetrics()
	healthHandler := health.NewHandler(version.Version(), health.WithCacheTTL(healthCacheTTL))
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", health.NewProbe("outbox", outboxBacklogCheck(deps.outboxRepo, cfg.OutboxMaxPending), health.Optional()))

	locker, closeLocker := initJobLocker(ctx, cfg, logger, healthHandler)
	defer closeLocker()
	notices, closeNotices := initNotificationPublisher(cfg, logger, healthHandler)
	defer closeNotices()
	kafkaRT := initKafka(cfg, logger, healthHandler)
	defer closeKafka(kafkaRT, logger)

	paymentGateway, err := NewPaymentGateway(cfg, logger)
	if err != nil {
		return err
	}

	transitions := lifecycle.New(deps.store,
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(bookingMetrics))

	engine := reservation.NewEngine(deps.store, deps.events, deps.bookings, paymentGateway, transitions,
		reservation.WithLogger(logger.WithField("component", "reservation-engine")),
		reservation.WithMetrics(bookingMetrics),
		reservation.WithReturnURL(cfg.PaymentReturnURL))

	pipeline := confirmation.NewPipeline(
		confirmation.NewSigner(cfg.WebhookSecret, cfg.WebhookTolerance),
		deps.bookings, transitions,
		confirmation.WithLogger(logger.WithField("component", "confirmation")),
		confirmation.WithMetrics(bookingMetrics),
		confirmation.WithDeliveryDedup(deps.idempotencyRepo, cfg.WebhookDedupTTL))

	reconciler := reconcile.NewService(deps.bookings, paymentGateway, transitions,
		reconcile.WithLogger(logger.WithField("component", "reconcile")),
		reconcile.WithMetrics(bookingMetrics))

	sweeper := expiry.NewSweeper(deps.bookings, transitions, expiry.Config{
		Threshold: cfg.ExpiryThreshold,
		BatchSize: cfg.SweepBatchSize,
		Interval:  cfg.SweepInterval,
	},
		expiry.WithLogger(logger.WithField("component", "expiry-sweeper")),
		expiry.WithMetrics(bookingMetrics),
		expiry.WithJobLocker(locker))

	dispatcher := newSideEffectDispatcher(cfg, deps, notices, kafkaRT, bookingMetrics, logger)
	outboxWorker := newOutboxWorker(cfg, deps.outboxRepo, dispatcher, kafkaRT, logger)

	keyJanitor := idempotency.NewJanitor(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "webhook-keys-janitor")),
		idempotency.WithJobLocker(locker),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize))

	reconcileWorker := reconcile.NewWorker(reconciler, deps.bookings, locker, reconcile.WorkerConfig{
		Interval:    cfg.ReconcileInterval,
		GracePeriod: cfg.ReconcileGracePeriod,
		BatchSize:   cfg.ReconcileBatchSize,
	}, logger.WithField("component", "reconcile-worker"))

	api := httpapi.NewServer(httpapi.Services{
		Verifier:  verifier,
		Engine:    engine,
		Bookings:  deps.bookings,
		Pipeline:  pipeline,
		Reconcile: reconciler,
		Sweeper:   sweeper,
	},
		httpapi.WithLogger(logger.WithField("component", "http-api")),
		httpapi.WithCronSecret(cfg.CronSecret),
		httpapi.WithTracing(tp != nil))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Run(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		return runMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)
	})
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reconcileWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		keyJanitor.Run(gctx)
		return nil
	})
	if cfg.SideEffectsViaKafka && kafkaRT != nil {
		consumer, err := kafkaRT.newSideEffectConsumer(cfg, dispatcher, logger)
		if err != nil {
			logger.WithError(err).Warn("kafka consumer unavailable, side effects stay in the outbox topic")
		} else {
			g.Go(func() error {
				if err := consumer.Start(gctx); err != nil {
					return fmt.Errorf("start kafka consumer: %w", err)
				}
				<-gctx.Done()
				return consumer.Stop()
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return tracing.Shutdown(shutdownCtx, tp)
	})

	logger.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"gateway":      paymentGateway.Name(),
	}).Info("boxoffice started")

	if err := g.Wait(); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if n := outboxWorker.Drain(drainCtx); n > 0 {
		logger.WithField("messages", n).Info("outbox drained on shutdown")
	}
	return ctx.Err()
}

// newSideEffectDispatcher регистрирует обработчики аналитики и писем.
// Без маршрута через Kafka остальные события outbox пересылаются в topic, если он настроен.
func newSideEffectDispatcher(cfg Config, deps *runtimeDependencies, notices domain.NotificationPublisher, kafkaRT *kafkaRuntime, m *metrics.BookingMetrics, logger *log.Entry) *outbox.Dispatcher {
	options := []outbox.DispatcherOption{outbox.WithDispatcherLogger(logger.WithField("component", "outbox-dispatcher"))}
	if kafkaRT != nil && !cfg.SideEffectsViaKafka {
		options = append(options, outbox.WithForwarder(kafkaRT.events))
	}
	dispatcher := outbox.NewDispatcher(options...)

	aggregator := analytics.NewAggregator(deps.events, deps.analyticsRepo,
		analytics.WithLogger(logger.WithField("component", "analytics")),
		analytics.WithMetrics(m))
	mailer := notification.NewDispatcher(deps.bookings, notices,
		notification.WithLogger(logger.WithField("component", "notification")),
		notification.WithMetrics(m),
		notification.WithLockTTL(cfg.EmailLockTTL))

	dispatcher.Handle(domain.EventTypeBookingConfirmedAnalytics, aggregator.HandleOutboxMessage)
	dispatcher.Handle(domain.EventTypeBookingConfirmedNotification, mailer.HandleOutboxMessage)
	return dispatcher
}

// newOutboxWorker выбирает получателя outbox: topic Kafka при маршруте через Kafka, иначе dispatcher.
func newOutboxWorker(cfg Config, repo domain.OutboxRepository, dispatcher *outbox.Dispatcher, kafkaRT *kafkaRuntime, logger *log.Entry) *outbox.Worker {
	var publisher domain.OutboxPublisher = dispatcher
	if cfg.SideEffectsViaKafka && kafkaRT != nil {
		publisher = kafkaRT.events
	}

	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if kafkaRT != nil {
		options = append(options, outbox.WithDLQPublisher(kafkaRT.dlq))
	}
	return outbox.NewWorker(repo, publisher, options...)
}

// outboxBacklogCheck сообщает об ошибке, когда очередь outbox превышает maxPending.
func outboxBacklogCheck(repo domain.OutboxRepository, maxPending int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		if stats.FailedCount > 0 {
			return fmt.Errorf("%d outbox messages failed", stats.FailedCount)
		}
		return nil
	}
}

// runMetricsServer отдаёт /metrics, /healthz, /readyz и /livez до отмены ctx.
func runMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("metrics and health checks listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownHTTP(srv, logger)
		return nil
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
