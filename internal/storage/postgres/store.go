package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

// opTimeout ограничивает одиночный запрос репозитория.
const opTimeout = 5 * time.Second

var errStoreClosed = errors.New("postgres store is not initialized")

// PoolConfig описывает пул соединений database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig возвращает настройки пула для одного инстанса сервиса.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// merge подставляет значения по умолчанию вместо незаданных полей.
func (c PoolConfig) merge(def PoolConfig) PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = def.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = min(def.MaxIdleConns, c.MaxOpenConns)
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	return c
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// Option настраивает Store.
type Option func(*Store)

// WithPool переопределяет настройки пула.
func WithPool(cfg PoolConfig) Option {
	return func(s *Store) {
		s.pool = cfg.merge(DefaultPoolConfig())
	}
}

// WithRetryConfig задаёт повторы сериализуемых транзакций.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Store) {
		s.retry = cfg.normalized()
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store держит пул соединений и выполняет транзакции бронирования.
type Store struct {
	db     *sql.DB
	pool   PoolConfig
	retry  RetryConfig
	logger *log.Entry
}

// Open создаёт пул через драйвер pgx и не возвращает Store, пока база не ответит на ping.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	s := &Store{pool: DefaultPoolConfig(), retry: DefaultRetryConfig()}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "postgres-store")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	s.pool.apply(db)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.logger.WithFields(log.Fields{
		"max_open_conns": s.pool.MaxOpenConns,
		"tx_attempts":    s.retry.MaxAttempts,
	}).Debug("postgres pool ready")
	return s, nil
}

// DB нужен репозиториям и тестам.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.pool.PingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// RunInTx выполняет fn в SERIALIZABLE-транзакции. При конфликте сериализации
// (40001, 40P01) транзакция повторяется целиком с экспоненциальной паузой,
// после последней попытки возвращается domain.ErrTransientStore.
// fn может вызываться несколько раз и не должна иметь внешних побочных эффектов.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}

	var conflict error
	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, fn)
		switch {
		case err == nil:
			if attempt > 1 {
				s.logger.WithField("attempt", attempt).Debug("transaction committed after serialization retry")
			}
			return nil
		case !isSerializationConflict(err):
			return err
		}

		conflict = err
		if attempt == s.retry.MaxAttempts {
			return fmt.Errorf("%w: %d attempts: %v", domain.ErrTransientStore, attempt, conflict)
		}
		s.logger.WithError(err).WithField("attempt", attempt).Debug("serialization conflict")
		if err := sleep(ctx, s.retry.delay(attempt+1)); err != nil {
			return errors.Join(domain.ErrTransientStore, conflict, err)
		}
	}
}

func (s *Store) attempt(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin serializable tx: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.TxRunner = (*Store)(nil)
