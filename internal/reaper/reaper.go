// Package reaper 定期删除已过期的消息。
//
// 清理只是空间回收：拉取流程在读取时自行过滤过期消息，清理失败不影响可见性，
// 下一个周期会再次尝试。
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deaddrop/backend/internal/monitoring"
)

// ExpiredMessageDeleter 删除 expires_at <= now 的消息
type ExpiredMessageDeleter interface {
	DeleteExpiredMessages(ctx context.Context, now int64) (int64, error)
}

// Reaper 过期消息清理任务
type Reaper struct {
	store    ExpiredMessageDeleter
	interval time.Duration
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// New 创建清理任务，interval 不大于零时使用 60 秒
func New(store ExpiredMessageDeleter, interval time.Duration, log *zap.Logger, metrics *monitoring.Metrics) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{
		store:    store,
		interval: interval,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run 启动时立即清理一次，之后按周期清理，直到 ctx 取消。始终返回 nil。
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("starting expired message reaper", zap.Duration("interval", r.interval))
	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一次清理，返回删除数量。错误只记录不返回。
func (r *Reaper) RunOnce(ctx context.Context) int64 {
	start := time.Now()

	deleted, err := r.store.DeleteExpiredMessages(ctx, r.now().Unix())
	r.metrics.RecordReaperRun(deleted, time.Since(start), err)

	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("failed to delete expired messages", zap.Error(err))
		}
		return 0
	}
	if deleted > 0 {
		r.log.Info("expired messages deleted", zap.Int64("count", deleted))
	}
	return deleted
}
