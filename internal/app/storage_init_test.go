package app

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.store == nil || deps.events == nil || deps.bookings == nil {
		t.Fatal("store and repositories should not be nil for memory storage")
	}
	if deps.outboxRepo == nil || deps.idempotencyRepo == nil || deps.analyticsRepo == nil {
		t.Fatal("outbox, idempotency and analytics repositories should not be nil")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != health.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
	deps.close(log.WithField("test", "memory-storage"))
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BOXOFFICE_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("BOXOFFICE_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(logger)

	if deps.closeFn == nil {
		t.Fatal("postgres dependencies must be closable")
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != health.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitGateway(t *testing.T) {
	logger := log.WithField("test", "gateway")

	gw, err := NewPaymentGateway(Config{}, logger)
	if err != nil || gw.Name() != "fake" {
		t.Fatalf("expected fake gateway by default, got %v, %v", gw, err)
	}

	if _, err := NewPaymentGateway(Config{GatewayDriver: GatewayDriverHTTP}, logger); err == nil {
		t.Fatal("expected error for http gateway without base url")
	}

	gw, err = NewPaymentGateway(Config{GatewayDriver: GatewayDriverHTTP, GatewayBaseURL: "https://sandbox.example.com/pg"}, logger)
	if err != nil {
		t.Fatalf("NewPaymentGateway(http) failed: %v", err)
	}
	if gw.Name() == "" {
		t.Fatal("expected gateway name")
	}

	if _, err := NewPaymentGateway(Config{GatewayDriver: "carrier-pigeon"}, logger); err == nil {
		t.Fatal("expected error for unsupported gateway driver")
	}
}

func TestInitJobLockerAndPublisher_FallBackWithoutBrokers(t *testing.T) {
	logger := log.WithField("test", "fallbacks")
	healthHandler := health.NewHandler("test")

	locker, closeLocker := initJobLocker(context.Background(), Config{}, logger, healthHandler)
	defer closeLocker()
	release, ok, err := locker.TryAcquire(context.Background(), "job", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected local lease, got ok=%v err=%v", ok, err)
	}
	release()

	publisher, closePublisher := initNotificationPublisher(Config{}, logger, healthHandler)
	defer closePublisher()
	if publisher == nil {
		t.Fatal("expected log publisher fallback")
	}

	response := healthHandler.Evaluate(context.Background())
	if len(response.Checks) != 0 {
		t.Fatalf("no optional checkers expected without brokers, got %v", response.Checks)
	}
}
