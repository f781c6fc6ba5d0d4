package joblock

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// redisAddr берёт адрес из окружения или поднимает контейнер redis.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("BOXOFFICE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	if testing.Short() {
		t.Skip("redis integration tests are skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	container, err := tcredis.RunContainer(ctx, testcontainers.WithImage("docker.io/redis:7"))
	if err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return strings.TrimPrefix(uri, "redis://")
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, WithKeyPrefix("boxoffice-test:"+time.Now().Format("150405.000000")+":"))
	require.NoError(t, locker.Ping(ctx))

	release, ok, err := locker.TryAcquire(ctx, "sweep", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "sweep", 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "reconcile", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "different jobs do not share a lease")

	release()
	release2, ok, err := locker.TryAcquire(ctx, "sweep", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestRedisLocker_StaleReleaseKeepsNewOwner(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, WithKeyPrefix("boxoffice-test-stale:"+time.Now().Format("150405.000000")+":"))

	staleRelease, ok, err := locker.TryAcquire(ctx, "sweep", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := locker.TryAcquire(ctx, "sweep", 5*time.Second)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)

	staleRelease()
	_, ok, err = locker.TryAcquire(ctx, "sweep", 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "stale release must not drop the new lease")
}
