package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	// checkTimeout 单项依赖检查的超时时间
	checkTimeout = 3 * time.Second
	// maxGoroutines 超过该数量视为进程失控
	maxGoroutines = 10000
)

// Pinger 可以被探活的依赖
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc 把普通函数适配为 Pinger
type PingerFunc func(ctx context.Context) error

// Health 调用函数本身
func (f PingerFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，store 为必需依赖，redis 可为 nil
func NewHealthChecker(store Pinger, redis Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		deps:   map[string]Pinger{"database": store},
		logger: logger,
	}
	if redis != nil {
		hc.deps["redis"] = redis
	}

	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	for name, dep := range hc.deps {
		hc.health.AddReadinessCheck(name, healthcheck.Timeout(hc.probe(name, dep), checkTimeout))
	}
}

func (hc *HealthChecker) probe(name string, dep Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := dep.Health(ctx); err != nil {
			hc.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Handler 返回 /live 与 /ready 处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行一次全部依赖检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string, len(hc.deps)+1)

	for name, dep := range hc.deps {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := dep.Health(checkCtx)
		cancel()

		if err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	if _, ok := hc.deps["redis"]; !ok {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results
}

// Healthy 所有依赖均正常
func Healthy(results map[string]string) bool {
	for name, status := range results {
		if name == "timestamp" || status == "NOT_AVAILABLE" {
			continue
		}
		if status != "OK" {
			return false
		}
	}
	return true
}

// StatusHandler 以 JSON 返回各依赖状态，任一依赖失败时返回 503
func (hc *HealthChecker) StatusHandler(w http.ResponseWriter, r *http.Request) {
	results := hc.CheckHealth(r.Context())

	status := http.StatusOK
	if !Healthy(results) {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(results)
}
