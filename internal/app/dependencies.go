package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/gateway"
	"github.com/vladislavdragonenkov/boxoffice/internal/health"
	"github.com/vladislavdragonenkov/boxoffice/internal/joblock"
	"github.com/vladislavdragonenkov/boxoffice/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/notification"
	"github.com/vladislavdragonenkov/boxoffice/internal/storage/memory"
	"github.com/vladislavdragonenkov/boxoffice/internal/storage/postgres"
)

// runtimeDependencies — хранилище и репозитории выбранного драйвера.
type runtimeDependencies struct {
	store           domain.TxRunner
	events          domain.EventRepository
	bookings        domain.BookingRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	analyticsRepo   domain.AnalyticsRepository
	storageChecker  health.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:           store,
			events:          store.Events(),
			bookings:        store.Bookings(),
			outboxRepo:      store.Outbox(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			analyticsRepo:   memory.NewAnalyticsRepository(),
			storageChecker:  health.NewProbe("storage", store.Ping),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithPool(postgres.PoolConfig{MaxOpenConns: cfg.PostgresMaxOpenConns}),
			postgres.WithLogger(logger.WithField("component", "postgres-store")))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:           store,
			events:          postgres.NewEventRepository(store),
			bookings:        postgres.NewBookingRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			analyticsRepo:   postgres.NewAnalyticsRepository(store),
			storageChecker:  health.NewProbe("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initJobLocker выбирает Redis-аренду, если задан адрес, иначе локальную.
// Недоступный Redis не останавливает запуск: задания работают под локальной арендой.
func initJobLocker(ctx context.Context, cfg Config, logger *log.Entry, healthHandler *health.Handler) (domain.JobLocker, func()) {
	if cfg.RedisAddr == "" {
		return joblock.NewLocalLocker(), func() {}
	}
	client, err := joblock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, falling back to local job locks")
		return joblock.NewLocalLocker(), func() {}
	}
	locker := joblock.NewRedisLocker(client, joblock.WithLogger(logger.WithField("component", "job-lock")))
	healthHandler.RegisterChecker("redis", health.NewProbe("redis", locker.Ping, health.Optional()))
	logger.WithField("addr", cfg.RedisAddr).Info("redis job locks enabled")
	return locker, func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
}

// initNotificationPublisher публикует задания на письма в RabbitMQ или, без брокера, в лог.
func initNotificationPublisher(cfg Config, logger *log.Entry, healthHandler *health.Handler) (domain.NotificationPublisher, func()) {
	if cfg.RabbitMQURL == "" {
		return notification.NewLogPublisher(logger.WithField("component", "notification-log")), func() {}
	}
	publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL,
		rabbitmq.WithQueue(cfg.RabbitMQQueue),
		rabbitmq.WithLogger(logger.WithField("component", "rabbitmq-publisher")))
	if err != nil {
		logger.WithError(err).Warn("rabbitmq unavailable, confirmation notices go to the log")
		return notification.NewLogPublisher(logger.WithField("component", "notification-log")), func() {}
	}
	healthHandler.RegisterChecker("rabbitmq", health.NewProbe("rabbitmq", publisher.Ping, health.Optional()))
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("failed to close rabbitmq publisher")
		}
	}
}

// NewPaymentGateway создаёт платёжный шлюз по cfg.GatewayDriver.
func NewPaymentGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	switch cfg.GatewayDriver {
	case "", GatewayDriverFake:
		logger.Warn("using fake payment gateway")
		return gateway.NewFake(), nil
	case GatewayDriverHTTP:
		return gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey,
			gateway.WithTimeout(cfg.GatewayTimeout),
			gateway.WithAPIVersion(cfg.GatewayAPIVersion),
			gateway.WithLogger(logger.WithField("component", "payment-gateway")))
	default:
		return nil, fmt.Errorf("unsupported gateway driver %q", cfg.GatewayDriver)
	}
}
