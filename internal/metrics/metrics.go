// Package metrics exposes the daemon's Prometheus metrics and the
// /healthz endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds all Prometheus metrics for the feed engine.
type Metrics struct {
	SessionState    prometheus.Gauge // 0=disconnected, 1=connected, 2=logged on
	Reconnects      prometheus.Counter
	InboundMessages *prometheus.CounterVec // labels: type
	QuotesEnqueued  prometheus.Counter
	QuotesDropped   prometheus.Counter

	QueueDepth   *prometheus.GaugeVec   // labels: queue
	QueueRetries *prometheus.CounterVec // labels: queue
	QueueDrops   *prometheus.CounterVec // labels: queue
	JobsDone     *prometheus.CounterVec // labels: queue

	TicksInserted  prometheus.Counter
	CandlesCreated prometheus.Counter
	CandlesUpdated prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedengine_session_state",
			Help: "FIX session state (0=disconnected, 1=connected, 2=logged on)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_session_reconnects_total",
			Help: "Total FIX session reconnections",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_inbound_messages_total",
			Help: "Inbound FIX messages by message type",
		}, []string{"type"}),
		QuotesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_quotes_enqueued_total",
			Help: "Raw quotes admitted to the tick pipeline",
		}),
		QuotesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_quotes_dropped_total",
			Help: "Raw quotes refused by a saturated tick queue",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedengine_queue_depth",
			Help: "Buffered jobs per work queue",
		}, []string{"queue"}),
		QueueRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_queue_retries_total",
			Help: "Job retries scheduled per work queue",
		}, []string{"queue"}),
		QueueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_queue_drops_total",
			Help: "Jobs dropped per work queue (saturation or attempts exhausted)",
		}, []string{"queue"}),
		JobsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedengine_jobs_done_total",
			Help: "Jobs completed successfully per work queue",
		}, []string{"queue"}),
		TicksInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_ticks_inserted_total",
			Help: "Ticks persisted to the durable store",
		}),
		CandlesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_candles_created_total",
			Help: "New candle rows inserted",
		}),
		CandlesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedengine_candles_updated_total",
			Help: "Existing candle rows updated",
		}),
	}

	prometheus.MustRegister(
		m.SessionState,
		m.Reconnects,
		m.InboundMessages,
		m.QuotesEnqueued,
		m.QuotesDropped,
		m.QueueDepth,
		m.QueueRetries,
		m.QueueDrops,
		m.JobsDone,
		m.TicksInserted,
		m.CandlesCreated,
		m.CandlesUpdated,
	)

	return m
}

// HealthStatus represents the daemon health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	SessionLoggedOn   bool
	RedisConnected    bool
	PostgresOK        bool
	RedisLatencyMs    float64
	PostgresLatencyMs float64
	LastCheckAt       time.Time
	StartedAt         time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetSessionLoggedOn(v bool) {
	h.mu.Lock()
	h.SessionLoggedOn = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPostgresOK(v bool) {
	h.mu.Lock()
	h.PostgresOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckPostgres pings the pool and records latency and health.
func (h *HealthStatus) CheckPostgres(ctx context.Context, pool *pgxpool.Pool) {
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.PostgresOK = err == nil
	h.PostgresLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is canceled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, pool *pgxpool.Pool, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if pool != nil {
					h.CheckPostgres(probeCtx, pool)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SessionLoggedOn || !h.RedisConnected || !h.PostgresOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.PostgresOK {
		overallStatus = "unhealthy"
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		SessionLoggedOn   bool    `json:"session_logged_on"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		PostgresOK        bool    `json:"postgres_ok"`
		PostgresLatencyMs float64 `json:"postgres_latency_ms"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		SessionLoggedOn:   h.SessionLoggedOn,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		PostgresOK:        h.PostgresOK,
		PostgresLatencyMs: h.PostgresLatencyMs,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  zerolog.Logger
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus, log zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
		log:  log.With().Str("component", "metrics").Logger(),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
