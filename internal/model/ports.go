package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipelines from concrete storage implementations
// (Postgres, Redis). Each implementation satisfies one or more of these interfaces.

// CatalogStore reads the currency-pair catalog from the durable store.
type CatalogStore interface {
	// LoadCurrencyPairs reads every currpairdetails row, eligible or not.
	LoadCurrencyPairs(ctx context.Context) ([]CurrencyPair, error)

	// ContractSize re-reads a single pair's contract size. Fallback path for
	// symbols whose size was NULL at boot; returns an error when still unknown.
	ContractSize(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TickStore persists normalized ticks into per-(symbol, side) tables.
type TickStore interface {
	// EnsureTickTables creates the bid and ask tick tables for symbol.
	EnsureTickTables(ctx context.Context, symbol string) error

	// InsertTick inserts a tick; duplicate lot values are silently skipped.
	InsertTick(ctx context.Context, t Tick) error

	// ReadTicks returns the stored ticks for a symbol and side.
	ReadTicks(ctx context.Context, symbol string, side Side) ([]Tick, error)
}

// CandleStore persists OHLC rows into per-symbol candle tables.
type CandleStore interface {
	// EnsureCandleTable creates the bid candle table for symbol.
	EnsureCandleTable(ctx context.Context, symbol string) error

	// CandleExists reports whether a row exists for the composite key.
	CandleExists(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time) (bool, error)

	// UpdateCandle folds price into an existing row:
	// high = GREATEST(high, price), low = LEAST(low, price), close = price.
	UpdateCandle(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time, price decimal.Decimal) error

	// InsertCandle writes a new candle row.
	InsertCandle(ctx context.Context, c Candle) error

	// ReadCandles returns the stored candles for a symbol.
	ReadCandles(ctx context.Context, symbol string) ([]Candle, error)
}

// TickCache mirrors ticks into the ordered cache lists.
type TickCache interface {
	// AppendTick appends the serialized tick to "ticks_{sym}_{side}".
	AppendTick(ctx context.Context, t Tick) error
}

// CandleCache holds the live OHLC record per (symbol, timeframe, candletime).
type CandleCache interface {
	// GetCandle reads a live candle; returns nil when the key is absent.
	GetCandle(ctx context.Context, key string) (*Candle, error)

	// SetCandle writes a live candle under key.
	SetCandle(ctx context.Context, key string, c Candle) error
}

// SnapshotCache replaces whole cache lists during bootstrap hydration.
type SnapshotCache interface {
	// ReplaceList atomically rewrites key with items (DEL + RPUSH).
	ReplaceList(ctx context.Context, key string, items [][]byte) error
}
