package candles

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fixfeed/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func storeKey(symbol, timeframe string, lots int16, candleTime time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", symbol, timeframe, lots, candleTime.UnixMilli())
}

type fakeCandleStore struct {
	rows    map[string]model.Candle
	inserts int
	updates int
	failTF  string // CandleExists fails for this timeframe
}

func newFakeCandleStore() *fakeCandleStore {
	return &fakeCandleStore{rows: map[string]model.Candle{}}
}

func (s *fakeCandleStore) EnsureCandleTable(ctx context.Context, symbol string) error { return nil }

func (s *fakeCandleStore) CandleExists(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time) (bool, error) {
	if s.failTF == timeframe {
		return false, fmt.Errorf("lookup %s: boom", timeframe)
	}
	_, ok := s.rows[storeKey(symbol, timeframe, lots, candleTime)]
	return ok, nil
}

func (s *fakeCandleStore) UpdateCandle(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time, price decimal.Decimal) error {
	k := storeKey(symbol, timeframe, lots, candleTime)
	c, ok := s.rows[k]
	if !ok {
		return fmt.Errorf("update missing row %s", k)
	}
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	s.rows[k] = c
	s.updates++
	return nil
}

func (s *fakeCandleStore) InsertCandle(ctx context.Context, c model.Candle) error {
	s.rows[storeKey(c.Symbol, c.Timeframe, c.Lots, c.CandleTime)] = c
	s.inserts++
	return nil
}

func (s *fakeCandleStore) ReadCandles(ctx context.Context, symbol string) ([]model.Candle, error) {
	return nil, nil
}

type fakeCandleCache struct {
	vals map[string]model.Candle
	sets int
}

func newFakeCandleCache() *fakeCandleCache {
	return &fakeCandleCache{vals: map[string]model.Candle{}}
}

func (c *fakeCandleCache) GetCandle(ctx context.Context, key string) (*model.Candle, error) {
	v, ok := c.vals[key]
	if !ok {
		return nil, nil
	}
	cp := v
	return &cp, nil
}

func (c *fakeCandleCache) SetCandle(ctx context.Context, key string, v model.Candle) error {
	c.vals[key] = v
	c.sets++
	return nil
}

func newTestEngine() (*Engine, *fakeCandleStore, *fakeCandleCache) {
	store := newFakeCandleStore()
	cache := newFakeCandleCache()
	return New(DefaultConfig(), store, cache, zerolog.Nop()), store, cache
}

func bidTick(price string, at time.Time) model.Tick {
	return model.Tick{Symbol: "EURUSD", Side: model.SideBid, TickTime: at, Lots: 7, Price: dec(price)}
}

func apply(t *testing.T, e *Engine, tick model.Tick) {
	t.Helper()
	if err := e.process(context.Background(), Job{Tick: tick, Timeframes: model.Timeframes}); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestEngine_FirstTickOpensAllTimeframes(t *testing.T) {
	e, store, cache := newTestEngine()

	at := time.Date(2024, 5, 1, 12, 34, 56, 789e6, time.UTC)
	apply(t, e, bidTick("1.08500", at))

	wantTimes := map[string]time.Time{
		"M1": time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC),
		"H1": time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		"D1": time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	for tf, wantTime := range wantTimes {
		row, ok := store.rows[storeKey("EURUSD", tf, 1, wantTime)]
		if !ok {
			t.Fatalf("expected %s row at %s, got none", tf, wantTime)
		}
		for name, got := range map[string]decimal.Decimal{
			"open": row.Open, "high": row.High, "low": row.Low, "close": row.Close,
		} {
			if !got.Equal(dec("1.08500")) {
				t.Errorf("%s %s: expected 1.08500, got %s", tf, name, got)
			}
		}
		if row.Lots != 1 {
			t.Errorf("%s lots: expected 1, got %d", tf, row.Lots)
		}
	}
	if store.inserts != 3 || store.updates != 0 {
		t.Errorf("expected 3 inserts and 0 updates, got %d and %d", store.inserts, store.updates)
	}

	key := "candle_eurusd_M1_2024-05-01T12:34:00Z"
	if _, ok := cache.vals[key]; !ok {
		t.Errorf("expected cache key %q, got keys %v", key, cacheKeys(cache))
	}
}

func cacheKeys(c *fakeCandleCache) []string {
	keys := make([]string, 0, len(c.vals))
	for k := range c.vals {
		keys = append(keys, k)
	}
	return keys
}

func TestEngine_HigherTickRaisesHighAndClose(t *testing.T) {
	e, store, cache := newTestEngine()

	at := time.Date(2024, 5, 1, 12, 34, 10, 0, time.UTC)
	apply(t, e, bidTick("1.08500", at))
	apply(t, e, bidTick("1.08620", at.Add(20*time.Second)))

	key := model.CandleLiveKey("EURUSD", "M1", time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))
	live := cache.vals[key]
	if !live.Open.Equal(dec("1.08500")) || !live.High.Equal(dec("1.08620")) ||
		!live.Low.Equal(dec("1.08500")) || !live.Close.Equal(dec("1.08620")) {
		t.Errorf("expected live OHLC 1.08500/1.08620/1.08500/1.08620, got %s/%s/%s/%s",
			live.Open, live.High, live.Low, live.Close)
	}

	row := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]
	if !row.High.Equal(dec("1.08620")) || !row.Close.Equal(dec("1.08620")) || !row.Open.Equal(dec("1.08500")) {
		t.Errorf("expected durable high/close 1.08620 with open 1.08500, got high=%s close=%s open=%s",
			row.High, row.Close, row.Open)
	}
	if store.updates != 3 {
		t.Errorf("expected 3 updates for second tick, got %d", store.updates)
	}
}

func TestEngine_LowerTickLowersLowAndClose(t *testing.T) {
	e, store, _ := newTestEngine()

	at := time.Date(2024, 5, 1, 12, 34, 10, 0, time.UTC)
	apply(t, e, bidTick("1.08500", at))
	apply(t, e, bidTick("1.08620", at.Add(10*time.Second)))
	apply(t, e, bidTick("1.08410", at.Add(20*time.Second)))

	row := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]
	if !row.Open.Equal(dec("1.08500")) || !row.High.Equal(dec("1.08620")) ||
		!row.Low.Equal(dec("1.08410")) || !row.Close.Equal(dec("1.08410")) {
		t.Errorf("expected OHLC 1.08500/1.08620/1.08410/1.08410, got %s/%s/%s/%s",
			row.Open, row.High, row.Low, row.Close)
	}
}

func TestEngine_MinuteRolloverOpensNewCandle(t *testing.T) {
	e, store, _ := newTestEngine()

	first := time.Date(2024, 5, 1, 12, 34, 59, 0, time.UTC)
	second := time.Date(2024, 5, 1, 12, 35, 1, 0, time.UTC)
	apply(t, e, bidTick("1.08500", first))
	apply(t, e, bidTick("1.08700", second))

	prev := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]
	if !prev.Close.Equal(dec("1.08500")) {
		t.Errorf("expected previous minute close 1.08500, got %s", prev.Close)
	}
	next, ok := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 35, 0, 0, time.UTC))]
	if !ok {
		t.Fatal("expected a new M1 row for the next minute, got none")
	}
	if !next.Open.Equal(dec("1.08700")) {
		t.Errorf("expected new minute open 1.08700, got %s", next.Open)
	}

	// The hour bucket spans both ticks.
	hour := store.rows[storeKey("EURUSD", "H1", 1, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))]
	if !hour.Open.Equal(dec("1.08500")) || !hour.Close.Equal(dec("1.08700")) {
		t.Errorf("expected H1 open 1.08500 close 1.08700, got %s and %s", hour.Open, hour.Close)
	}
}

func TestEngine_BucketBoundaryIsHalfOpen(t *testing.T) {
	e, store, _ := newTestEngine()

	base := time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC)
	apply(t, e, bidTick("1.10000", base.Add(time.Minute-time.Millisecond)))
	apply(t, e, bidTick("1.20000", base.Add(time.Minute)))

	if _, ok := store.rows[storeKey("EURUSD", "M1", 1, base)]; !ok {
		t.Error("expected tick at 59.999s to land in the current minute")
	}
	next, ok := store.rows[storeKey("EURUSD", "M1", 1, base.Add(time.Minute))]
	if !ok {
		t.Fatal("expected tick at 60.000s to open the next minute")
	}
	if !next.Open.Equal(dec("1.20000")) {
		t.Errorf("expected next-minute open 1.20000, got %s", next.Open)
	}
}

func TestEngine_ReappliedTickLeavesCandleUnchanged(t *testing.T) {
	e, store, _ := newTestEngine()

	at := time.Date(2024, 5, 1, 12, 34, 10, 0, time.UTC)
	tick := bidTick("1.08500", at)
	apply(t, e, tick)
	before := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]

	apply(t, e, tick)
	after := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]

	if !before.Open.Equal(after.Open) || !before.High.Equal(after.High) ||
		!before.Low.Equal(after.Low) || !before.Close.Equal(after.Close) {
		t.Errorf("expected identical OHLC after reapply, got %s/%s/%s/%s then %s/%s/%s/%s",
			before.Open, before.High, before.Low, before.Close,
			after.Open, after.High, after.Low, after.Close)
	}
	if store.inserts != 3 {
		t.Errorf("expected reapply to take the update path, got %d inserts", store.inserts)
	}
}

func TestEngine_FirstFailingTimeframeAbortsJob(t *testing.T) {
	e, store, _ := newTestEngine()
	store.failTF = "H1"

	at := time.Date(2024, 5, 1, 12, 34, 10, 0, time.UTC)
	err := e.process(context.Background(), Job{Tick: bidTick("1.08500", at), Timeframes: model.Timeframes})
	if err == nil {
		t.Fatal("expected an error from the failing timeframe, got nil")
	}

	if _, ok := store.rows[storeKey("EURUSD", "M1", 1, time.Date(2024, 5, 1, 12, 34, 0, 0, time.UTC))]; !ok {
		t.Error("expected M1 row written before the failure")
	}
	if _, ok := store.rows[storeKey("EURUSD", "D1", 1, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))]; ok {
		t.Error("expected no D1 row after the H1 failure")
	}

	// The retry re-applies every timeframe and converges.
	store.failTF = ""
	apply(t, e, bidTick("1.08500", at))
	for _, tf := range []string{"M1", "H1", "D1"} {
		key := storeKey("EURUSD", tf, 1, model.Timeframes[timeframeIndex(tf)].Bucket(at))
		row, ok := store.rows[key]
		if !ok {
			t.Fatalf("expected %s row after retry, got none", tf)
		}
		if !row.Close.Equal(dec("1.08500")) {
			t.Errorf("%s close: expected 1.08500, got %s", tf, row.Close)
		}
	}
}

func timeframeIndex(name string) int {
	for i, tf := range model.Timeframes {
		if tf.Name == name {
			return i
		}
	}
	return -1
}

func TestEngine_EnqueueTickRunsThroughQueue(t *testing.T) {
	store := newFakeCandleStore()
	cache := newFakeCandleCache()
	e := New(Config{Workers: 1, RatePerSec: 0, Attempts: 1, Backoff: time.Millisecond, Timeout: time.Second, Buffer: 16},
		store, cache, zerolog.Nop())

	created := 0
	e.OnCreated = func() { created++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	if ok := e.EnqueueTick(bidTick("1.08500", time.Date(2024, 5, 1, 12, 34, 10, 0, time.UTC))); !ok {
		t.Fatal("expected enqueue to succeed")
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := e.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(store.rows) != 3 {
		t.Fatalf("expected 3 durable rows, got %d", len(store.rows))
	}
	if created != 3 {
		t.Errorf("expected OnCreated fired 3 times, got %d", created)
	}
}
