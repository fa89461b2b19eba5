// Package bootstrap prepares storage before the session starts: it loads the
// currency-pair catalog, ensures the per-pair tick and candle tables, and
// publishes snapshots of the durable tables into the cache lists.
package bootstrap

import (
	"context"

	"github.com/rs/zerolog"

	"fixfeed/internal/model"
)

// Deps are the storage ports bootstrap touches.
type Deps struct {
	Catalog  model.CatalogStore
	Ticks    model.TickStore
	Candles  model.CandleStore
	Snapshot model.SnapshotCache
}

// Run executes the bootstrap sequence and returns the catalog. No step is
// fatal: failures are logged and skipped, and the session engine starts
// regardless. A failed catalog load yields an empty catalog, so the session
// will log on but subscribe to nothing.
func Run(ctx context.Context, d Deps, log zerolog.Logger) *model.Catalog {
	log = log.With().Str("component", "bootstrap").Logger()

	pairs, err := d.Catalog.LoadCurrencyPairs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("catalog load failed; starting with no pairs")
		return model.NewCatalog(nil)
	}
	catalog := model.NewCatalog(pairs)
	eligible := catalog.Eligible()
	log.Info().Int("pairs", catalog.Len()).Int("eligible", len(eligible)).Msg("catalog loaded")

	for _, p := range eligible {
		if err := d.Ticks.EnsureTickTables(ctx, p.Symbol); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("ensure tick tables failed")
		}
		if err := d.Candles.EnsureCandleTable(ctx, p.Symbol); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("ensure candle table failed")
		}
	}

	for _, p := range eligible {
		hydrateTicks(ctx, d, log, p.Symbol, model.SideBid)
		hydrateTicks(ctx, d, log, p.Symbol, model.SideAsk)
		hydrateCandles(ctx, d, log, p.Symbol)
	}
	return catalog
}

func hydrateTicks(ctx context.Context, d Deps, log zerolog.Logger, symbol string, side model.Side) {
	ticks, err := d.Ticks.ReadTicks(ctx, symbol, side)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Str("side", string(side)).Msg("tick snapshot read failed")
		return
	}
	items := make([][]byte, 0, len(ticks))
	for i := range ticks {
		items = append(items, ticks[i].JSON())
	}
	key := model.TickListKey(symbol, side)
	if err := d.Snapshot.ReplaceList(ctx, key, items); err != nil {
		log.Error().Err(err).Str("key", key).Msg("tick snapshot publish failed")
		return
	}
	log.Debug().Str("key", key).Int("ticks", len(items)).Msg("tick snapshot published")
}

func hydrateCandles(ctx context.Context, d Deps, log zerolog.Logger, symbol string) {
	candles, err := d.Candles.ReadCandles(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("candle snapshot read failed")
		return
	}
	items := make([][]byte, 0, len(candles))
	for i := range candles {
		items = append(items, candles[i].JSON())
	}
	key := model.CandleSnapshotKey(symbol)
	if err := d.Snapshot.ReplaceList(ctx, key, items); err != nil {
		log.Error().Err(err).Str("key", key).Msg("candle snapshot publish failed")
		return
	}
	log.Debug().Str("key", key).Int("candles", len(items)).Msg("candle snapshot published")
}
