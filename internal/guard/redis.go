// Package guard provides a Redis-backed render lock shared across processes.
// This package is internal and should not be imported by external projects.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/renderflow/config"
)

// =============================================================================
// 🔒 跨进程渲染锁
// =============================================================================

// ErrClosed 锁管理器已关闭
var ErrClosed = errors.New("render guard is closed")

// releaseScript 仅删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript 仅为自己持有的锁续期
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Release 释放已获取的锁，可重复调用
type Release = func()

// RedisGuard 跨进程渲染锁
type RedisGuard struct {
	redis  *redis.Client
	config config.GuardConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRedisGuard 创建锁管理器并验证连接
func NewRedisGuard(cfg config.GuardConfig, logger *zap.Logger) (*RedisGuard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	g := &RedisGuard{
		redis:  client,
		config: cfg,
		logger: logger.With(zap.String("component", "render_guard")),
		done:   make(chan struct{}),
	}

	logger.Info("render guard initialized",
		zap.String("addr", cfg.Addr),
		zap.String("key", cfg.Key),
		zap.Duration("ttl", cfg.TTL),
	)

	return g, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// TryAcquire 尝试获取锁，被占用时返回 ok=false 且不阻塞
func (g *RedisGuard) TryAcquire(ctx context.Context, holder string) (Release, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return nil, false, ErrClosed
	}

	token := holder + "/" + uuid.NewString()
	ok, err := g.redis.SetNX(ctx, g.config.Key, token, g.config.TTL).Result()
	if err != nil {
		g.logger.Error("acquire render lock failed", zap.Error(err))
		return nil, false, fmt.Errorf("acquire render lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	go g.keepAlive(token, stop)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			// 调用方 ctx 可能已取消，释放使用独立超时
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.redis, []string{g.config.Key}, token).Err(); err != nil {
				g.logger.Warn("release render lock failed", zap.Error(err))
			}
		})
	}
	return release, true, nil
}

// refreshInterval 未配置时取 TTL 的三分之一
func (g *RedisGuard) refreshInterval() time.Duration {
	if g.config.RefreshInterval > 0 {
		return g.config.RefreshInterval
	}
	return g.config.TTL / 3
}

// keepAlive 在持有期间按间隔续期，直到 stop 关闭、管理器关闭或锁已易主
func (g *RedisGuard) keepAlive(token string, stop <-chan struct{}) {
	interval := g.refreshInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ttl := g.config.TTL.Milliseconds()
	for {
		select {
		case <-stop:
			return
		case <-g.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := refreshScript.Run(ctx, g.redis, []string{g.config.Key}, token, ttl).Int()
		cancel()
		if err != nil {
			g.logger.Warn("refresh render lock failed", zap.Error(err))
			continue
		}
		if n == 0 {
			g.logger.Warn("render lock lost before release", zap.String("key", g.config.Key))
			return
		}
	}
}

// Holder 返回当前锁持有者标识，无人持有时返回空串
func (g *RedisGuard) Holder(ctx context.Context) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return "", ErrClosed
	}

	val, err := g.redis.Get(ctx, g.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read render lock: %w", err)
	}
	return val, nil
}

// Ping 检查 Redis 连接
func (g *RedisGuard) Ping(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return ErrClosed
	}

	return g.redis.Ping(ctx).Err()
}

// Close 关闭锁管理器
func (g *RedisGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}

	g.closed = true
	close(g.done)
	g.logger.Info("closing render guard")

	return g.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// StartHealthCheck 启动后台健康检查，Close 时退出
func (g *RedisGuard) StartHealthCheck(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.Ping(ctx); err != nil {
				g.logger.Error("render guard health check failed", zap.Error(err))
			} else {
				g.logger.Debug("render guard health check passed")
			}
			cancel()
		}
	}()
}
