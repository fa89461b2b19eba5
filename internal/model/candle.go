package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLC bucket for a symbol at a given timeframe.
// Lots is the aggregation granularity column of the candle tables and is
// always written as 1; it is unrelated to the tick's lot value.
type Candle struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"` // M1, H1, D1
	Lots       int16           `json:"lots"`
	CandleTime time.Time       `json:"candletime"` // bucket start (UTC, timeframe-aligned)
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
}

// Key returns the live cache key for this candle:
// "candle_{symbol}_{timeframe}_{candletime RFC3339}".
func (c *Candle) Key() string {
	return CandleLiveKey(c.Symbol, c.Timeframe, c.CandleTime)
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
