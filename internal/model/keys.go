package model

import (
	"strings"
	"time"
)

// Cache key composition. Symbols are lowercased in keys the same way they
// are in table names so the cache and the durable store partition identically.

// TickListKey returns the ordered tick list key: "ticks_{sym}_{side}".
func TickListKey(symbol string, side Side) string {
	return "ticks_" + strings.ToLower(symbol) + "_" + side.Suffix()
}

// CandleSnapshotKey returns the bootstrap candle snapshot key: "candles_{sym}".
func CandleSnapshotKey(symbol string) string {
	return "candles_" + strings.ToLower(symbol)
}

// CandleLiveKey returns the live OHLC record key:
// "candle_{sym}_{timeframe}_{candletime RFC3339}".
func CandleLiveKey(symbol, timeframe string, candleTime time.Time) string {
	return "candle_" + strings.ToLower(symbol) + "_" + timeframe + "_" +
		candleTime.UTC().Format(time.RFC3339)
}
