package ticks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fixfeed/internal/model"
	"fixfeed/internal/queue"
)

// Job is the tick-pipeline payload: one raw quote to normalize and persist.
type Job struct {
	Quote model.RawQuote
}

// CandleEnqueuer hands BID ticks to the candle engine.
type CandleEnqueuer interface {
	EnqueueTick(t model.Tick) bool
}

// Config sets the pipeline queue contracts.
type Config struct {
	Workers    int
	RatePerSec float64
	Attempts   int
	Backoff    time.Duration
	Timeout    time.Duration
	Buffer     int
}

// DefaultConfig returns the production contracts: 5 workers, at most 100
// jobs/s globally, 3 attempts with exponential backoff from 1s, 30s per
// attempt.
func DefaultConfig() Config {
	return Config{
		Workers:    5,
		RatePerSec: 100,
		Attempts:   3,
		Backoff:    time.Second,
		Timeout:    30 * time.Second,
		Buffer:     10000,
	}
}

// Pipeline consumes raw quotes from the session dispatch and persists them.
// Within one job the cache append happens before the durable insert, so the
// cache list may briefly hold a tick the tick table later rejects on a lots
// conflict.
type Pipeline struct {
	q        *queue.Queue[Job]
	catalog  *model.Catalog
	fallback model.CatalogStore
	store    model.TickStore
	cache    model.TickCache
	candles  CandleEnqueuer
	log      zerolog.Logger
	now      func() time.Time
}

// New wires the pipeline. catalog is the immutable boot-time pair set;
// fallback re-reads the durable catalog for the rare symbol whose contract
// size was NULL at boot.
func New(cfg Config, catalog *model.Catalog, fallback model.CatalogStore, store model.TickStore,
	cache model.TickCache, candles CandleEnqueuer, log zerolog.Logger) *Pipeline {

	p := &Pipeline{
		catalog:  catalog,
		fallback: fallback,
		store:    store,
		cache:    cache,
		candles:  candles,
		log:      log.With().Str("component", "tickpipe").Logger(),
		now:      time.Now,
	}
	p.q = queue.New(queue.Config{
		Name:       "ticks",
		Workers:    cfg.Workers,
		RatePerSec: cfg.RatePerSec,
		Attempts:   cfg.Attempts,
		Backoff:    cfg.Backoff,
		Timeout:    cfg.Timeout,
		Buffer:     cfg.Buffer,
	}, log, p.process)
	return p
}

// Queue exposes the underlying work queue for metrics wiring.
func (p *Pipeline) Queue() *queue.Queue[Job] { return p.q }

// Start launches the queue workers.
func (p *Pipeline) Start(ctx context.Context) {
	p.q.Start(ctx)
}

// EnqueueQuote admits one raw quote under the given job id. It never blocks;
// a saturated queue drops the quote.
func (p *Pipeline) EnqueueQuote(id string, q model.RawQuote) bool {
	return p.q.Enqueue(id, Job{Quote: q})
}

// Close drains in-flight jobs and stops the workers.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.q.Close(ctx)
}

// process runs one job: resolve contract size (catalog first, durable store
// as the error-path fallback), normalize, mirror to cache, insert durably,
// and enqueue a candle job if and only if the tick is a BID.
func (p *Pipeline) process(ctx context.Context, j Job) error {
	q := j.Quote

	size, ok := p.catalog.ContractSize(q.Symbol)
	if !ok {
		var err error
		size, err = p.fallback.ContractSize(ctx, q.Symbol)
		if err != nil {
			return fmt.Errorf("resolve contract size: %w", err)
		}
	}

	tick, err := Normalize(q, size, p.now())
	if err != nil {
		return err
	}

	if err := p.cache.AppendTick(ctx, tick); err != nil {
		return fmt.Errorf("cache append: %w", err)
	}
	if err := p.store.InsertTick(ctx, tick); err != nil {
		return fmt.Errorf("durable insert: %w", err)
	}

	if tick.Side == model.SideBid {
		p.candles.EnqueueTick(tick)
	}
	return nil
}
