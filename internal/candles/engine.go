// Package candles maintains the multi-timeframe OHLC rollup over BID ticks.
package candles

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fixfeed/internal/model"
	"fixfeed/internal/queue"
)

// candleLots is the aggregation granularity written to every candle row.
// It is deliberately not the tick's lot value.
const candleLots int16 = 1

// Job carries one tick plus the timeframes to fold it into.
type Job struct {
	Tick       model.Tick
	Timeframes []model.Timeframe
}

// Config sets the engine queue contracts.
type Config struct {
	Workers    int
	RatePerSec float64
	Attempts   int
	Backoff    time.Duration
	Timeout    time.Duration
	Buffer     int
}

// DefaultConfig returns the production contracts: a single worker, at most
// 50 jobs/s, 3 attempts with exponential backoff from 1s, 30s per attempt.
func DefaultConfig() Config {
	return Config{
		Workers:    1,
		RatePerSec: 50,
		Attempts:   3,
		Backoff:    time.Second,
		Timeout:    30 * time.Second,
		Buffer:     5000,
	}
}

// Engine folds ticks into per-timeframe candles: a cache-first
// read-modify-write on the live record, then a durable update using
// GREATEST/LEAST so retries re-applying a tick stay idempotent. The cache and
// durable paths are not transactional with each other. The unsynchronized
// read-modify-write is only safe while Workers is 1; raising concurrency
// requires a per-(symbol, timeframe, candletime) lock.
type Engine struct {
	q          *queue.Queue[Job]
	store      model.CandleStore
	cache      model.CandleCache
	timeframes []model.Timeframe
	log        zerolog.Logger

	// OnCreated and OnUpdated fire after a durable insert or update; used
	// for metrics. May be nil.
	OnCreated func()
	OnUpdated func()
}

// New wires the engine over the active timeframes (M1, H1, D1).
func New(cfg Config, store model.CandleStore, cache model.CandleCache, log zerolog.Logger) *Engine {
	e := &Engine{
		store:      store,
		cache:      cache,
		timeframes: model.Timeframes,
		log:        log.With().Str("component", "candles").Logger(),
	}
	e.q = queue.New(queue.Config{
		Name:       "candles",
		Workers:    cfg.Workers,
		RatePerSec: cfg.RatePerSec,
		Attempts:   cfg.Attempts,
		Backoff:    cfg.Backoff,
		Timeout:    cfg.Timeout,
		Buffer:     cfg.Buffer,
	}, log, e.process)
	return e
}

// Queue exposes the underlying work queue for metrics wiring.
func (e *Engine) Queue() *queue.Queue[Job] { return e.q }

// Start launches the queue worker.
func (e *Engine) Start(ctx context.Context) {
	e.q.Start(ctx)
}

// EnqueueTick admits one BID tick for aggregation across the active
// timeframes. It never blocks; a saturated queue drops the job.
func (e *Engine) EnqueueTick(t model.Tick) bool {
	id := t.Symbol + "_" + model.Itoa64(t.TickTime.UnixMilli())
	return e.q.Enqueue(id, Job{Tick: t, Timeframes: e.timeframes})
}

// Close drains in-flight jobs and stops the worker.
func (e *Engine) Close(ctx context.Context) error {
	return e.q.Close(ctx)
}

// process applies the tick to every timeframe in order. The first failing
// timeframe aborts the job; the retry re-applies all timeframes, which the
// GREATEST/LEAST durable path and the cache read-modify-write both tolerate.
func (e *Engine) process(ctx context.Context, j Job) error {
	for _, tf := range j.Timeframes {
		if err := e.applyTimeframe(ctx, j.Tick, tf); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyTimeframe(ctx context.Context, t model.Tick, tf model.Timeframe) error {
	candleTime := tf.Bucket(t.TickTime)
	key := model.CandleLiveKey(t.Symbol, tf.Name, candleTime)

	// Cache path: read-modify-write of the live record.
	cur, err := e.cache.GetCandle(ctx, key)
	if err != nil {
		return fmt.Errorf("cache read %s: %w", key, err)
	}
	if cur == nil {
		fresh := model.Candle{
			Symbol:     t.Symbol,
			Timeframe:  tf.Name,
			Lots:       candleLots,
			CandleTime: candleTime,
			Open:       t.Price,
			High:       t.Price,
			Low:        t.Price,
			Close:      t.Price,
		}
		if err := e.cache.SetCandle(ctx, key, fresh); err != nil {
			return fmt.Errorf("cache write %s: %w", key, err)
		}
	} else {
		if t.Price.GreaterThan(cur.High) {
			cur.High = t.Price
		}
		if t.Price.LessThan(cur.Low) {
			cur.Low = t.Price
		}
		cur.Close = t.Price
		if err := e.cache.SetCandle(ctx, key, *cur); err != nil {
			return fmt.Errorf("cache write %s: %w", key, err)
		}
	}

	// Durable path.
	exists, err := e.store.CandleExists(ctx, t.Symbol, tf.Name, candleLots, candleTime)
	if err != nil {
		return fmt.Errorf("durable lookup %s/%s: %w", t.Symbol, tf.Name, err)
	}
	if exists {
		if err := e.store.UpdateCandle(ctx, t.Symbol, tf.Name, candleLots, candleTime, t.Price); err != nil {
			return fmt.Errorf("durable update %s/%s: %w", t.Symbol, tf.Name, err)
		}
		if e.OnUpdated != nil {
			e.OnUpdated()
		}
		return nil
	}
	if err := e.store.InsertCandle(ctx, model.Candle{
		Symbol:     t.Symbol,
		Timeframe:  tf.Name,
		Lots:       candleLots,
		CandleTime: candleTime,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
	}); err != nil {
		return fmt.Errorf("durable insert %s/%s: %w", t.Symbol, tf.Name, err)
	}
	if e.OnCreated != nil {
		e.OnCreated()
	}
	return nil
}
