package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fixfeed/config"
	"fixfeed/internal/bootstrap"
	"fixfeed/internal/candles"
	"fixfeed/internal/metrics"
	"fixfeed/internal/session"
	"fixfeed/internal/store/postgres"
	rediscache "fixfeed/internal/store/redis"
	"fixfeed/internal/ticks"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		log = log.Level(zerolog.InfoLevel)
	}
	cfg.Warn(log)
	log.Info().Msg("feedengine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	// ---- Durable store ----
	store, err := postgres.New(ctx, postgres.Config{
		Host:     cfg.PGHost,
		Port:     cfg.PGPort,
		User:     cfg.PGUser,
		Password: cfg.PGPassword,
		Database: cfg.PGDatabase,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres init failed")
	}
	defer store.Close()
	health.SetPostgresOK(true)

	// ---- Cache ----
	cache, err := rediscache.New(rediscache.Config{
		Host: cfg.RedisHost,
		Port: cfg.RedisPort,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer cache.Close()
	health.SetRedisConnected(true)

	health.StartLivenessChecker(ctx, cache.Client(), store.Pool(), 10*time.Second)

	// ---- Bootstrap: catalog, schemas, cache hydration ----
	catalog := bootstrap.Run(ctx, bootstrap.Deps{
		Catalog:  store,
		Ticks:    store,
		Candles:  store,
		Snapshot: cache,
	}, log)

	// ---- Candle engine ----
	candleEngine := candles.New(candles.DefaultConfig(), store, cache, log)
	candleEngine.OnCreated = prom.CandlesCreated.Inc
	candleEngine.OnUpdated = prom.CandlesUpdated.Inc
	candleQueue := candleEngine.Queue()
	candleQueue.OnDone = func() { prom.JobsDone.WithLabelValues("candles").Inc() }
	candleQueue.OnRetry = func() { prom.QueueRetries.WithLabelValues("candles").Inc() }
	candleQueue.OnDrop = func(string) { prom.QueueDrops.WithLabelValues("candles").Inc() }
	candleEngine.Start(ctx)

	// ---- Tick pipeline ----
	pipeline := ticks.New(ticks.DefaultConfig(), catalog, store, store, cache, candleEngine, log)
	tickQueue := pipeline.Queue()
	tickQueue.OnDone = func() {
		prom.JobsDone.WithLabelValues("ticks").Inc()
		prom.TicksInserted.Inc()
	}
	tickQueue.OnRetry = func() { prom.QueueRetries.WithLabelValues("ticks").Inc() }
	tickQueue.OnDrop = func(string) { prom.QueueDrops.WithLabelValues("ticks").Inc() }
	pipeline.Start(ctx)

	// ---- Queue depth gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.QueueDepth.WithLabelValues("ticks").Set(float64(tickQueue.Depth()))
				prom.QueueDepth.WithLabelValues("candles").Set(float64(candleQueue.Depth()))
			}
		}
	}()

	// ---- FIX session ----
	engine := session.New(session.Config{
		Host:         cfg.FIXServer,
		Port:         cfg.FIXPort,
		SenderCompID: cfg.SenderCompID,
		TargetCompID: cfg.TargetCompID,
		Username:     cfg.Username,
		Password:     cfg.Password,
	}, catalog.Eligible(), pipeline, cache, log)
	engine.OnConnected = func() { prom.SessionState.Set(1) }
	engine.OnLoggedOn = func() {
		prom.SessionState.Set(2)
		health.SetSessionLoggedOn(true)
	}
	engine.OnDisconnected = func() {
		prom.SessionState.Set(0)
		prom.Reconnects.Inc()
		health.SetSessionLoggedOn(false)
	}
	engine.OnInbound = func(msgType string) {
		prom.InboundMessages.WithLabelValues(msgType).Inc()
	}
	engine.OnQuote = func(admitted bool) {
		if admitted {
			prom.QuotesEnqueued.Inc()
		} else {
			prom.QuotesDropped.Inc()
		}
	}

	go func() {
		if err := engine.Run(ctx); err != nil {
			// Reconnects exhausted: the feed stays down but the process
			// stays alive until a shutdown signal arrives.
			log.Error().Err(err).Msg("session ended")
		}
	}()

	// ---- Wait for shutdown signal ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	engine.Shutdown(shutdownCtx)
	if err := pipeline.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tick queue drain timed out")
	}
	if err := candleEngine.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("candle queue drain timed out")
	}
	cancel()
	cache.Close()
	metricsSrv.Stop(shutdownCtx)
	store.Close()

	log.Info().Msg("shutdown complete")
}
