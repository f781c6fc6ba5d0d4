// Command booking-jobs запускает разовые служебные задания по расписанию внешнего планировщика.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/app"
	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/expiry"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/idempotency"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/outbox"
	"github.com/vladislavdragonenkov/boxoffice/internal/service/reconcile"
	"github.com/vladislavdragonenkov/boxoffice/internal/storage/postgres"
)

type globalOptions struct {
	DSN      string `long:"dsn" env:"BOXOFFICE_POSTGRES_DSN" description:"PostgreSQL DSN"`
	LogLevel string `long:"log-level" env:"BOXOFFICE_LOG_LEVEL" default:"info" description:"logrus level"`
}

// jobStore — репозитории, нужные заданиям.
type jobStore struct {
	store       domain.TxRunner
	bookings    domain.BookingRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	close       func() error
}

type runner struct {
	ctx    context.Context
	opts   *globalOptions
	out    io.Writer
	logger *log.Entry
	open   func(ctx context.Context, dsn string) (*jobStore, error)
	// gateway нужен только сверке; конфигурация берётся из окружения сервиса.
	gateway func() (domain.PaymentGateway, error)
}

func openPostgres(ctx context.Context, dsn string) (*jobStore, error) {
	if dsn == "" {
		return nil, errors.New("BOXOFFICE_POSTGRES_DSN (or --dsn) is required")
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &jobStore{
		store:       store,
		bookings:    postgres.NewBookingRepository(store),
		outbox:      postgres.NewOutboxRepository(store),
		idempotency: postgres.NewIdempotencyRepository(store),
		close:       store.Close,
	}, nil
}

func (r *runner) withStore(fn func(s *jobStore) error) error {
	level, err := log.ParseLevel(r.opts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", r.opts.LogLevel, err)
	}
	log.SetLevel(level)

	s, err := r.open(r.ctx, r.opts.DSN)
	if err != nil {
		return err
	}
	if s.close != nil {
		defer func() {
			if err := s.close(); err != nil {
				r.logger.WithError(err).Warn("failed to close store")
			}
		}()
	}
	return fn(s)
}

func (r *runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type sweepCommand struct {
	Threshold time.Duration `long:"threshold" default:"15m" description:"age after which a PENDING booking expires"`
	BatchSize int           `long:"batch-size" default:"100" description:"bookings per run"`
	r         *runner
}

func (c *sweepCommand) Execute([]string) error {
	return c.r.withStore(func(s *jobStore) error {
		sweeper := expiry.NewSweeper(s.bookings, lifecycle.New(s.store), expiry.Config{
			Threshold: c.Threshold,
			BatchSize: c.BatchSize,
		}, expiry.WithLogger(c.r.logger.WithField("job", "sweep")))
		result, err := sweeper.SweepOnce(c.r.ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return c.r.printJSON(result)
	})
}

type reconcileCommand struct {
	GracePeriod time.Duration `long:"grace-period" default:"2m" description:"skip bookings updated more recently"`
	BatchSize   int           `long:"batch-size" default:"50" description:"bookings per run"`
	r           *runner
}

func (c *reconcileCommand) Execute([]string) error {
	return c.r.withStore(func(s *jobStore) error {
		gateway, err := c.r.gateway()
		if err != nil {
			return err
		}
		logger := c.r.logger.WithField("job", "reconcile")
		service := reconcile.NewService(s.bookings, gateway, lifecycle.New(s.store), reconcile.WithLogger(logger))
		worker := reconcile.NewWorker(service, s.bookings, nil, reconcile.WorkerConfig{
			GracePeriod: c.GracePeriod,
			BatchSize:   c.BatchSize,
		}, logger)
		updated, err := worker.RunOnce(c.r.ctx)
		if err != nil {
			return err
		}
		return c.r.printJSON(map[string]int{"updated": updated})
	})
}

type dlqReplayCommand struct {
	Limit int `long:"limit" default:"100" description:"maximum messages to requeue"`
	r     *runner
}

func (c *dlqReplayCommand) Execute([]string) error {
	return c.r.withStore(func(s *jobStore) error {
		worker := outbox.NewWorker(s.outbox, outbox.NewDispatcher(), outbox.WithLogger(c.r.logger.WithField("job", "dlq-replay")))
		requeued, err := worker.ReplayFailed(c.r.ctx, c.Limit)
		if err != nil {
			return err
		}
		return c.r.printJSON(map[string]int{"requeued": requeued})
	})
}

type cleanupIdempotencyCommand struct {
	BatchSize  int `long:"batch-size" default:"500" description:"rows deleted per statement"`
	MaxBatches int `long:"max-batches" default:"50" description:"statements per run"`
	r          *runner
}

func (c *cleanupIdempotencyCommand) Execute([]string) error {
	return c.r.withStore(func(s *jobStore) error {
		janitor := idempotency.NewJanitor(s.idempotency,
			idempotency.WithLogger(c.r.logger.WithField("job", "cleanup-idempotency")),
			idempotency.WithBatchSize(c.BatchSize),
			idempotency.WithMaxBatches(c.MaxBatches))
		report, err := janitor.Purge(c.r.ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		return c.r.printJSON(report)
	})
}

func newParser(r *runner) (*flags.Parser, error) {
	parser := flags.NewParser(r.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "booking-jobs"

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"sweep", "Expire abandoned bookings", "Expires PENDING bookings older than the threshold and returns their seats.", &sweepCommand{r: r}},
		{"reconcile", "Reconcile bookings with the gateway", "Polls the payment gateway for PENDING bookings with an open order.", &reconcileCommand{r: r}},
		{"dlq-replay", "Requeue failed outbox messages", "Moves failed outbox messages back to pending.", &dlqReplayCommand{r: r}},
		{"cleanup-idempotency", "Delete expired webhook delivery keys", "Deletes webhook delivery keys past their TTL.", &cleanupIdempotencyCommand{r: r}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			return nil, err
		}
	}
	return parser, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.LoadConfigFromEnv()
	logger := log.WithField("component", "booking-jobs")
	r := &runner{
		ctx:    ctx,
		opts:   &globalOptions{},
		out:    os.Stdout,
		logger: logger,
		open:   openPostgres,
		gateway: func() (domain.PaymentGateway, error) {
			return app.NewPaymentGateway(cfg, logger)
		},
	}

	parser, err := newParser(r)
	if err != nil {
		logger.WithError(err).Fatal("failed to build command parser")
	}
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stdout, err)
			return
		}
		stop()
		logger.WithError(err).Fatal("job failed")
	}
}
