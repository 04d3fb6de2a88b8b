package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge
	apiErrors   *prometheus.CounterVec

	aggregateOps       *prometheus.CounterVec
	aggregateLatency   *prometheus.HistogramVec
	aggregateConflicts *prometheus.CounterVec
	aggregateRetries   *prometheus.CounterVec

	admissions     *prometheus.CounterVec
	dispatches     *prometheus.CounterVec
	dispatchTicks  *prometheus.CounterVec
	executorCalls  *prometheus.HistogramVec
	reconciles     *prometheus.CounterVec
	ledgerPostings *prometheus.CounterVec
	ledgerUnits    *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec
	pgStats    *prometheus.GaugeVec
	redisUp    prometheus.Gauge
	redisPing  prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("METRICS_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init builds the process-wide metrics registry when METRICS_ENABLED is set.
// It returns nil otherwise; every method is nil-safe.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics registry initialized")
		}
	})
	return instance
}

// NewMetrics creates an isolated registry. Tests use it directly.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	latencyBuckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vq_api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: latencyBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vq_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_api_errors_total",
			Help: "API error responses by route and error code.",
		}, []string{"route", "code"}),
		aggregateOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_aggregate_operations_total",
			Help: "Aggregate write operations by name/status.",
		}, []string{"operation", "status"}),
		aggregateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vq_aggregate_operation_duration_seconds",
			Help:    "Aggregate write latency in seconds.",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		aggregateConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_aggregate_conflicts_total",
			Help: "Aggregate operations that ended in a conflict.",
		}, []string{"operation"}),
		aggregateRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_aggregate_retries_total",
			Help: "Aggregate operations that ended in a retryable error.",
		}, []string{"operation"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_admissions_total",
			Help: "Submission attempts by job kind and result code.",
		}, []string{"kind", "result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_dispatches_total",
			Help: "Dispatch attempts by job kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_dispatch_ticks_total",
			Help: "Dispatcher ticks by result.",
		}, []string{"result"}),
		executorCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vq_executor_call_duration_seconds",
			Help:    "External executor call latency by backend/call/outcome.",
			Buckets: latencyBuckets,
		}, []string{"backend", "call", "outcome"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_reconciles_total",
			Help: "Reconciliation passes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		ledgerPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_ledger_postings_total",
			Help: "Ledger entries posted by kind.",
		}, []string{"kind"}),
		ledgerUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vq_ledger_units_total",
			Help: "Absolute token units moved by ledger entry kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vq_video_jobs",
			Help: "Video jobs by status.",
		}, []string{"status"}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vq_postgres_pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vq_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vq_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors,
		m.aggregateOps, m.aggregateLatency, m.aggregateConflicts, m.aggregateRetries,
		m.admissions, m.dispatches, m.dispatchTicks, m.executorCalls,
		m.reconciles, m.ledgerPostings, m.ledgerUnits,
		m.queueDepth, m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

// Registry exposes the underlying registry for scraping in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

// CountAPIRequest counts a request without timing it. Long-lived streams use
// it so their lifetime does not land in the latency histogram.
func (m *Metrics) CountAPIRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(orUnknown(method), orUnknown(route), status).Inc()
}

func (m *Metrics) IncAPIError(route, code string) {
	if m == nil {
		return
	}
	m.apiErrors.WithLabelValues(orUnknown(route), orUnknown(code)).Inc()
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAggregateOperation(name, status string, dur time.Duration) {
	if m == nil {
		return
	}
	name = orUnknown(name)
	m.aggregateOps.WithLabelValues(name, orUnknown(status)).Inc()
	m.aggregateLatency.WithLabelValues(name).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(name string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.WithLabelValues(orUnknown(name)).Inc()
}

func (m *Metrics) IncAggregateRetry(name string) {
	if m == nil {
		return
	}
	m.aggregateRetries.WithLabelValues(orUnknown(name)).Inc()
}

// IncAdmission counts a submission; result is "admitted" or an error code.
func (m *Metrics) IncAdmission(kind, result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(orUnknown(kind), orUnknown(result)).Inc()
}

func (m *Metrics) IncDispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(orUnknown(kind), orUnknown(outcome)).Inc()
}

func (m *Metrics) IncDispatchTick(result string) {
	if m == nil {
		return
	}
	m.dispatchTicks.WithLabelValues(orUnknown(result)).Inc()
}

func (m *Metrics) ObserveExecutorCall(backend, call, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.executorCalls.WithLabelValues(orUnknown(backend), orUnknown(call), orUnknown(outcome)).Observe(dur.Seconds())
}

func (m *Metrics) IncReconcile(trigger, outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(orUnknown(trigger), orUnknown(outcome)).Inc()
}

func (m *Metrics) ObserveLedgerPosting(kind string, change int) {
	if m == nil {
		return
	}
	kind = orUnknown(kind)
	m.ledgerPostings.WithLabelValues(kind).Inc()
	if change < 0 {
		change = -change
	}
	m.ledgerUnits.WithLabelValues(kind).Add(float64(change))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartJobQueueCollector samples video job counts by status on every scrape interval.
func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.CollectJobQueue(ctx, db); err != nil && log != nil {
					log.Warn("metrics: job queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) CollectJobQueue(ctx context.Context, db *gorm.DB) error {
	if m == nil || db == nil {
		return nil
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.VideoJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	m.queueDepth.Reset()
	for _, s := range types.VideoJobStatuses() {
		m.queueDepth.WithLabelValues(s).Set(0)
	}
	for _, row := range rows {
		m.queueDepth.WithLabelValues(orUnknown(strings.TrimSpace(row.Status))).Set(float64(row.Count))
	}
	return nil
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
