// Package monitoring 版本写入、回滚与保留清理的 Prometheus 指标
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edutrail/errors"
	"edutrail/logging"
	"edutrail/versionlog"
)

const namespace = "edutrail"

// Metrics 同时实现 audited.Metrics、revert.Metrics 与 retention.Metrics
type Metrics struct {
	versionsAppended *prometheus.CounterVec
	writeConflicts   *prometheus.CounterVec
	reverts          *prometheus.CounterVec
	revertFailures   *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
	retentionRuns    *prometheus.CounterVec
	retentionLatency prometheus.Histogram
}

// NewMetrics 在 reg 上注册全部指标，reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		// Labels: item_type, event (created, updated, deleted)
		versionsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "versions",
			Name:      "appended_total",
			Help:      "Versions appended to the log",
		}, []string{"item_type", "event"}),
		writeConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "versions",
			Name:      "write_conflicts_total",
			Help:      "Writes rejected by the lock_version check",
		}, []string{"item_type"}),
		reverts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revert",
			Name:      "total",
			Help:      "Successful reverts by action",
		}, []string{"item_type", "action"}),
		revertFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revert",
			Name:      "failures_total",
			Help:      "Failed reverts by error code",
		}, []string{"item_type", "code"}),
		retentionDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_total",
			Help:      "Versions removed by retention, per pass (age, cap)",
		}, []string{"pass"}),
		retentionRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Retention runs by status",
		}, []string{"status"}),
		retentionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "run_duration_seconds",
			Help:      "Retention run duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
}

func (m *Metrics) VersionAppended(itemType string, event versionlog.Event) {
	m.versionsAppended.WithLabelValues(itemType, string(event)).Inc()
}

func (m *Metrics) WriteConflict(itemType string) {
	m.writeConflicts.WithLabelValues(itemType).Inc()
}

func (m *Metrics) Reverted(itemType string, action string) {
	m.reverts.WithLabelValues(itemType, action).Inc()
}

func (m *Metrics) RevertFailed(itemType string, code string) {
	m.revertFailures.WithLabelValues(itemType, code).Inc()
}

func (m *Metrics) RetentionDeleted(pass string, n int64) {
	if n > 0 {
		m.retentionDeleted.WithLabelValues(pass).Add(float64(n))
	}
}

func (m *Metrics) RetentionRun(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.retentionRuns.WithLabelValues(status).Inc()
	m.retentionLatency.Observe(d.Seconds())
}

// Serve 在 addr 上暴露 /metrics，ctx 结束时优雅关闭
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := logging.ComponentLogger("monitoring")
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info(ctx, "metrics endpoint listening", logging.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.WrapError(err, errors.ErrCodeInternal, "metrics 监听失败")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
