package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит данные в PostgreSQL.
	StorageDriverPostgres = "postgres"

	// GatewayDriverFake — in-memory шлюз для локального запуска.
	GatewayDriverFake = "fake"
	// GatewayDriverHTTP — HTTP-клиент платёжного шлюза.
	GatewayDriverHTTP = "http"
)

const envPrefix = "BOXOFFICE_"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver        string
	PostgresDSN          string
	PostgresAutoMigrate  bool
	PostgresMaxOpenConns int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог очереди outbox, выше которого /healthz показывает degraded.
	OutboxMaxPending int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	WebhookSecret    string
	WebhookTolerance time.Duration
	WebhookDedupTTL  time.Duration

	JWTSecret  string
	JWTIssuer  string
	CronSecret string

	GatewayDriver     string
	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayAPIVersion string
	GatewayTimeout    time.Duration
	PaymentReturnURL  string

	ExpiryThreshold time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int

	ReconcileInterval    time.Duration
	ReconcileGracePeriod time.Duration
	ReconcileBatchSize   int

	EmailLockTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL   string
	RabbitMQQueue string

	KafkaBrokers        []string
	KafkaTopic          string
	KafkaConsumerGroup  string
	SideEffectsViaKafka bool

	JaegerEndpoint string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		PostgresMaxOpenConns: 25,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		WebhookTolerance: 5 * time.Minute,
		WebhookDedupTTL:  24 * time.Hour,

		JWTIssuer: "boxoffice",

		GatewayDriver:     GatewayDriverFake,
		GatewayAPIVersion: "2023-08-01",
		GatewayTimeout:    10 * time.Second,

		ExpiryThreshold: 15 * time.Minute,
		SweepInterval:   time.Minute,
		SweepBatchSize:  100,

		ReconcileInterval:    2 * time.Minute,
		ReconcileGracePeriod: 2 * time.Minute,
		ReconcileBatchSize:   50,

		EmailLockTTL: 5 * time.Minute,

		RabbitMQQueue:      "booking.confirmed",
		KafkaConsumerGroup: "boxoffice-side-effects",
	}
}

// LoadConfigFromEnv читает переменные BOXOFFICE_* поверх DefaultConfig.
// Необязательный .env в рабочем каталоге подгружается первым и не перекрывает окружение.
func LoadConfigFromEnv() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg := DefaultConfig()
	cfg.HTTPAddr = envStr("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envStr("METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(envStr("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = envStr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.PostgresMaxOpenConns = envInt("POSTGRES_MAX_OPEN_CONNS", cfg.PostgresMaxOpenConns)

	cfg.OutboxPollInterval = envDur("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDur("OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)
	cfg.OutboxMaxPending = envInt("OUTBOX_MAX_PENDING", cfg.OutboxMaxPending)

	cfg.IdempotencyCleanupInterval = envDur("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = envInt("IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize)

	cfg.WebhookSecret = envStr("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookTolerance = envDur("WEBHOOK_TOLERANCE", cfg.WebhookTolerance)
	cfg.WebhookDedupTTL = envDur("WEBHOOK_DEDUP_TTL", cfg.WebhookDedupTTL)

	cfg.JWTSecret = envStr("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envStr("JWT_ISSUER", cfg.JWTIssuer)
	cfg.CronSecret = envStr("CRON_SECRET", cfg.CronSecret)

	cfg.GatewayDriver = strings.ToLower(envStr("GATEWAY_DRIVER", cfg.GatewayDriver))
	cfg.GatewayBaseURL = envStr("GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewayAPIKey = envStr("GATEWAY_API_KEY", cfg.GatewayAPIKey)
	cfg.GatewayAPIVersion = envStr("GATEWAY_API_VERSION", cfg.GatewayAPIVersion)
	cfg.GatewayTimeout = envDur("GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	cfg.PaymentReturnURL = envStr("PAYMENT_RETURN_URL", cfg.PaymentReturnURL)

	cfg.ExpiryThreshold = envDur("EXPIRY_THRESHOLD", cfg.ExpiryThreshold)
	cfg.SweepInterval = envDur("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)

	cfg.ReconcileInterval = envDur("RECONCILE_INTERVAL", cfg.ReconcileInterval)
	cfg.ReconcileGracePeriod = envDur("RECONCILE_GRACE_PERIOD", cfg.ReconcileGracePeriod)
	cfg.ReconcileBatchSize = envInt("RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize)

	cfg.EmailLockTTL = envDur("EMAIL_LOCK_TTL", cfg.EmailLockTTL)

	cfg.RedisAddr = envStr("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envStr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)

	cfg.RabbitMQURL = envStr("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.RabbitMQQueue = envStr("RABBITMQ_QUEUE", cfg.RabbitMQQueue)

	cfg.KafkaBrokers = envList("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envStr("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.KafkaConsumerGroup = envStr("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.SideEffectsViaKafka = envBool("SIDE_EFFECTS_VIA_KAFKA", cfg.SideEffectsViaKafka)

	cfg.JaegerEndpoint = envStr("JAEGER_ENDPOINT", cfg.JaegerEndpoint)
	return cfg
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envStr(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", envPrefix+key).Warn("invalid bool value, using default")
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", envPrefix+key).Warn("invalid int value, using default")
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithField("key", envPrefix+key).Warn("invalid duration value, using default")
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
