package redis

import (
	"context"
	"fmt"
	"time"
)

// windowKey 固定窗口计数键：前缀:ratelimit:作用域:标识:窗口起点
func (c *Client) windowKey(scope, subject string, window time.Duration, now time.Time) string {
	start := now.Truncate(window).Unix()
	return fmt.Sprintf("%s:ratelimit:%s:%s:%d", c.prefix, scope, subject, start)
}

// IncrementWindow 在当前固定窗口内为 subject 计数加一，返回窗口内的累计次数
//
// INCR 与 EXPIRE 在同一个事务管道里执行，键在窗口结束后自动过期。
func (c *Client) IncrementWindow(ctx context.Context, scope, subject string, window time.Duration) (int64, error) {
	key := c.windowKey(scope, subject, window, time.Now())

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return incr.Val(), nil
}
