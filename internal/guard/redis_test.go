package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
)

// =============================================================================
// 🧪 RedisGuard 测试
// =============================================================================

const testKey = "renderflow:render:lock"

func setupTestGuard(t *testing.T, opts ...func(*config.GuardConfig)) (*miniredis.Miniredis, *RedisGuard) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.DefaultGuardConfig()
	cfg.Enabled = true
	cfg.Addr = mr.Addr()
	cfg.TTL = time.Minute
	for _, opt := range opts {
		opt(&cfg)
	}

	g, err := NewRedisGuard(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return mr, g
}

func TestRedisGuard_AcquireRelease(t *testing.T) {
	mr, g := setupTestGuard(t)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)

	holder, err := g.Holder(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(holder, "host-a/"))
	assert.Equal(t, time.Minute, mr.TTL(testKey))

	// 第二个请求立即被拒绝
	_, ok, err = g.TryAcquire(ctx, "host-b")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	holder, err = g.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)

	_, ok, err = g.TryAcquire(ctx, "host-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGuard_ReleaseDoesNotStealForeignLock(t *testing.T) {
	mr, g := setupTestGuard(t)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)

	// 锁过期后被其他进程获取
	mr.FastForward(2 * time.Minute)
	require.NoError(t, mr.Set(testKey, "host-b/other"))

	release()

	val, err := mr.Get(testKey)
	require.NoError(t, err)
	assert.Equal(t, "host-b/other", val)
}

func TestRedisGuard_ExpiresAfterTTL(t *testing.T) {
	mr, g := setupTestGuard(t)
	ctx := context.Background()

	_, ok, err := g.TryAcquire(ctx, "crashed")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(61 * time.Second)

	_, ok, err = g.TryAcquire(ctx, "next")
	require.NoError(t, err)
	assert.True(t, ok)
}

func fastRefresh(c *config.GuardConfig) { c.RefreshInterval = 10 * time.Millisecond }

func TestRedisGuard_RenewsWhileHeld(t *testing.T) {
	mr, g := setupTestGuard(t, fastRefresh)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	// 渲染时长远超 TTL，锁仍由 host-a 持有
	for i := 0; i < 16; i++ {
		mr.FastForward(50 * time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL(testKey) == time.Minute
		}, time.Second, 5*time.Millisecond, "lock not renewed after %d steps", i+1)
	}

	_, ok, err = g.TryAcquire(ctx, "host-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisGuard_RenewalStopsOnRelease(t *testing.T) {
	mr, g := setupTestGuard(t, fastRefresh)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)
	token, err := g.Holder(ctx)
	require.NoError(t, err)

	release()

	// 同一令牌重新出现也不再续期
	require.NoError(t, mr.Set(testKey, token))
	mr.SetTTL(testKey, time.Minute)
	mr.FastForward(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 30*time.Second, mr.TTL(testKey))
}

func TestRedisGuard_RenewalSkipsForeignLock(t *testing.T) {
	mr, g := setupTestGuard(t, fastRefresh)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "host-a")
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	require.NoError(t, mr.Set(testKey, "host-b/other"))
	mr.SetTTL(testKey, time.Minute)
	mr.FastForward(30 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 30*time.Second, mr.TTL(testKey))
}

func TestRedisGuard_DefaultRefreshInterval(t *testing.T) {
	_, g := setupTestGuard(t)
	assert.Equal(t, 20*time.Second, g.refreshInterval())

	_, g = setupTestGuard(t, fastRefresh)
	assert.Equal(t, 10*time.Millisecond, g.refreshInterval())
}

func TestRedisGuard_Closed(t *testing.T) {
	_, g := setupTestGuard(t)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	_, _, err := g.TryAcquire(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, g.Ping(context.Background()), ErrClosed)
}

func TestNewRedisGuard_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := config.DefaultGuardConfig()
	cfg.Addr = addr
	_, err = NewRedisGuard(cfg, nil)
	assert.Error(t, err)
}

func TestRedisGuard_HealthCheckStopsOnClose(t *testing.T) {
	_, g := setupTestGuard(t)
	g.StartHealthCheck(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, g.Close())
}
