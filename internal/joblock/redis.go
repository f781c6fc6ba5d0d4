package joblock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const (
	defaultKeyPrefix      = "boxoffice:job:"
	defaultReleaseTimeout = 2 * time.Second
)

// удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOption настраивает RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix задаёт префикс ключей аренды.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) RedisOption {
	return func(l *RedisLocker) {
		l.logger = logger
	}
}

// RedisLocker выдаёт аренду задачи через SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	logger *log.Entry
}

// NewRedisLocker создаёт аренду поверх готового клиента.
func NewRedisLocker(client redis.UniversalClient, options ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, prefix: defaultKeyPrefix}
	for _, option := range options {
		option(l)
	}
	if l.logger == nil {
		l.logger = log.WithField("component", "joblock")
	}
	return l
}

// TryAcquire пытается занять ключ задачи на ttl. Аренда истекает сама,
// если экземпляр упал, не вызвав release.
func (l *RedisLocker) TryAcquire(ctx context.Context, job string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("job %s: lease ttl must be positive", job)
	}
	key := l.prefix + job
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// ctx задачи к этому моменту может быть уже отменён
		releaseCtx, cancel := context.WithTimeout(context.Background(), defaultReleaseTimeout)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.WithError(err).WithField("job", job).Warn("failed to release job lease")
		}
	}
	return release, true, nil
}

// Ping проверяет доступность Redis (для health checker).
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// NewRedisClient открывает клиент и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

var _ domain.JobLocker = (*RedisLocker)(nil)
