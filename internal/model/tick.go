package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single normalized quote observation from the FIX feed.
// Price is kept as a decimal so numeric(12,5) values never pass through a
// float64 on their way to storage.
type Tick struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	TickTime time.Time       `json:"ticktime"` // UTC
	Lots     int64           `json:"lots"`     // round(size / contractSize)
	Price    decimal.Decimal `json:"price"`
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
