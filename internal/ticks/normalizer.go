// Package ticks normalizes raw quotes and runs the tick ingestion pipeline:
// resolve the contract size, compute lots, stamp the tick time, mirror the
// tick into the cache list, insert it into the durable store, and hand BID
// ticks to the candle engine.
package ticks

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fixfeed/internal/model"
)

// sourceTimeLayout is the FIX MDEntryTime (tag 273) wall-clock form.
const sourceTimeLayout = "15:04:05"

// Normalize converts a raw quote into a persistable tick.
//
// lots = round(size / contractSize), rounding half away from zero. When the
// quote carries tag 273, its wall-clock time is applied to today's UTC date;
// otherwise the tick is stamped with now. A quote arriving just after a UTC
// midnight the venue has not crossed yet is therefore dated to the wrong day;
// that behavior is intentional.
func Normalize(q model.RawQuote, contractSize decimal.Decimal, now time.Time) (model.Tick, error) {
	if contractSize.IsZero() {
		return model.Tick{}, fmt.Errorf("normalize %s: contract size unknown", q.Symbol)
	}
	price, err := decimal.NewFromString(q.Price)
	if err != nil {
		return model.Tick{}, fmt.Errorf("normalize %s: bad price %q: %w", q.Symbol, q.Price, err)
	}
	size, err := decimal.NewFromString(q.Size)
	if err != nil {
		return model.Tick{}, fmt.Errorf("normalize %s: bad size %q: %w", q.Symbol, q.Size, err)
	}
	lots := size.Div(contractSize).Round(0).IntPart()

	tickTime := now.UTC()
	if q.SourceTime != "" {
		wall, err := time.Parse(sourceTimeLayout, q.SourceTime)
		if err != nil {
			return model.Tick{}, fmt.Errorf("normalize %s: bad source time %q: %w", q.Symbol, q.SourceTime, err)
		}
		tickTime = time.Date(tickTime.Year(), tickTime.Month(), tickTime.Day(),
			wall.Hour(), wall.Minute(), wall.Second(), 0, time.UTC)
	}

	return model.Tick{
		Symbol:   q.Symbol,
		Side:     q.Side,
		TickTime: tickTime,
		Lots:     lots,
		Price:    price,
	}, nil
}
