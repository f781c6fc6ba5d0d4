package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/health"
	"github.com/vladislavdragonenkov/boxoffice/internal/metrics"
	"github.com/vladislavdragonenkov/boxoffice/internal/storage/memory"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.JWTSecret = "app-test"
	cfg.WebhookSecret = "whsec-app-test"
	return cfg
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, testConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_RequiresJWTSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}

func TestCheckSecrets(t *testing.T) {
	cases := []struct {
		name     string
		driver   string
		cron     string
		webhook  string
		wantErr  bool
		warnings int
	}{
		{name: "configured", driver: StorageDriverPostgres, cron: "cron", webhook: "whsec"},
		{name: "memory without cron secret", driver: StorageDriverMemory, webhook: "whsec", warnings: 1},
		{name: "postgres without cron secret", driver: StorageDriverPostgres, webhook: "whsec", wantErr: true},
		{name: "nothing configured", driver: StorageDriverMemory, warnings: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			cfg := testConfig()
			cfg.StorageDriver = tc.driver
			cfg.CronSecret = tc.cron
			cfg.WebhookSecret = tc.webhook

			err := checkSecrets(cfg, logger.WithField("test", tc.name))
			if tc.wantErr {
				require.ErrorContains(t, err, "BOXOFFICE_CRON_SECRET")
				return
			}
			require.NoError(t, err)
			require.Len(t, hook.AllEntries(), tc.warnings)
			for _, entry := range hook.AllEntries() {
				require.Equal(t, log.WarnLevel, entry.Level)
			}
		})
	}
}

func TestRun_PostgresRequiresCronSecret(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = "postgres://unused"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "BOXOFFICE_CRON_SECRET")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestRunMetricsServer_Endpoints(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runMetricsServer(ctx, addr, log.WithField("test", "http"), health.NewHandler("test"))
	}()

	get := func(path string) (int, string) {
		var resp *http.Response
		require.Eventually(t, func() bool {
			var err error
			resp, err = http.Get(fmt.Sprintf("http://%s%s", addr, path))
			return err == nil
		}, 2*time.Second, 20*time.Millisecond)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body)

	code, _ = get("/healthz")
	require.Equal(t, http.StatusOK, code)

	code, body = get("/livez")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	cancel()
	require.NoError(t, <-done)
}

func TestOutboxBacklogCheck(t *testing.T) {
	repo := memory.NewOutboxRepository()
	ctx := context.Background()
	check := outboxBacklogCheck(repo, 1)

	require.NoError(t, check(ctx))

	for i := 0; i < 2; i++ {
		msg, err := domain.NewBookingOutboxMessage(domain.EventTypeBookingStatusChanged, domain.BookingEvent{
			BookingID: fmt.Sprintf("b-%d", i),
		})
		require.NoError(t, err)
		_, err = repo.Enqueue(ctx, msg)
		require.NoError(t, err)
	}
	require.Error(t, check(ctx))
}

type recordingNotices struct {
	mu      sync.Mutex
	notices []domain.ConfirmationNotice
}

func (r *recordingNotices) PublishConfirmation(_ context.Context, notice domain.ConfirmationNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return nil
}

func TestSideEffectDispatcher_RoutesConfirmedBooking(t *testing.T) {
	ctx := context.Background()
	logger := log.WithField("test", "dispatcher")
	cfg := testConfig()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	require.NoError(t, err)
	store := deps.store.(*memory.Store)
	require.NoError(t, deps.events.Create(ctx, domain.Event{ID: "event-1", HostID: "host-1"}))

	booking := domain.NewPendingBooking("b-1", "user-1", "event-1",
		[]domain.LineItem{{TicketTypeID: "vip", Quantity: 2, UnitPriceMinor: 500}}, time.Now().UTC())
	booking.TotalAmountMinor = 1000
	require.NoError(t, booking.Confirm("ticket-1", time.Now().UTC()))
	store.PutBooking(booking)

	notices := &recordingNotices{}
	dispatcher := newSideEffectDispatcher(cfg, deps, notices, nil, metrics.NewBookingMetrics(), logger)

	event := domain.NewBookingEvent(booking, domain.BookingStatusPending, time.Now().UTC())
	for _, eventType := range []string{
		domain.EventTypeBookingConfirmedAnalytics,
		domain.EventTypeBookingConfirmedNotification,
		domain.EventTypeBookingStatusChanged,
	} {
		msg, err := domain.NewBookingOutboxMessage(eventType, event)
		require.NoError(t, err)
		require.NoError(t, dispatcher.Publish(ctx, msg))
	}

	require.Len(t, notices.notices, 1)
	host, err := deps.analyticsRepo.GetHost(ctx, "host-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), host.TicketsSold)
	require.Equal(t, int64(1000), host.RevenueMinor)
}

func TestNewOutboxWorker_DeliversThroughDispatcher(t *testing.T) {
	ctx := context.Background()
	logger := log.WithField("test", "outbox")
	cfg := testConfig()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	require.NoError(t, err)
	dispatcher := newSideEffectDispatcher(cfg, deps, &recordingNotices{}, nil, metrics.NewBookingMetrics(), logger)
	worker := newOutboxWorker(cfg, deps.outboxRepo, dispatcher, nil, logger)

	msg, err := domain.NewBookingOutboxMessage(domain.EventTypeBookingStatusChanged, domain.BookingEvent{BookingID: "b-1"})
	require.NoError(t, err)
	_, err = deps.outboxRepo.Enqueue(ctx, msg)
	require.NoError(t, err)

	require.Equal(t, 1, worker.ProcessOnce(ctx))
	stats, err := deps.outboxRepo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
