// Package ratelimit 按客户端限制请求频率。
//
// 配置了 Redis 时使用跨实例共享的固定窗口计数，否则退化为进程内令牌桶。
// 这与投递箱的字节配额无关，配额由投递流程自行检查。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter 判断一次请求是否放行
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (bool, error)
}

// WindowCounter 固定窗口计数器，由 storage/redis.Client 实现
type WindowCounter interface {
	IncrementWindow(ctx context.Context, scope, subject string, window time.Duration) (int64, error)
}

// RedisLimiter 基于共享计数器的固定窗口限流
type RedisLimiter struct {
	counter  WindowCounter
	limit    int64
	window   time.Duration
	fallback Limiter
	log      *zap.Logger
}

// NewRedisLimiter 创建固定窗口限流器。计数器不可用时交给 fallback 判断。
func NewRedisLimiter(counter WindowCounter, perMinute int, fallback Limiter, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		counter:  counter,
		limit:    int64(perMinute),
		window:   time.Minute,
		fallback: fallback,
		log:      log,
	}
}

// Allow 实现 Limiter
func (l *RedisLimiter) Allow(ctx context.Context, scope, subject string) (bool, error) {
	n, err := l.counter.IncrementWindow(ctx, scope, subject, l.window)
	if err != nil {
		l.log.Warn("shared rate limit counter unavailable, using local limiter",
			zap.String("scope", scope),
			zap.Error(err),
		)
		if l.fallback == nil {
			return true, nil
		}
		return l.fallback.Allow(ctx, scope, subject)
	}
	return n <= l.limit, nil
}

// LocalLimiter 进程内按 (scope, subject) 分桶的令牌桶
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastScan time.Time
	now      func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter 创建进程内限流器，perMinute 为稳态速率，burst 为突发容量
func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow 实现 Limiter
func (l *LocalLimiter) Allow(_ context.Context, scope, subject string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdleLocked(now)

	key := scope + "|" + subject
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// evictIdleLocked 定期清理长时间未访问的桶
func (l *LocalLimiter) evictIdleLocked(now time.Time) {
	if now.Sub(l.lastScan) < l.idleTTL {
		return
	}
	l.lastScan = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// Size 当前桶数量
func (l *LocalLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
