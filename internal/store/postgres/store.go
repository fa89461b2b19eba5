// Package postgres is the durable store: the currpairdetails catalog, the
// per-(symbol, side) tick tables, and the per-symbol bid candle tables.
// Symbols are lowercased when composing table names; the names come from the
// catalog, never from user input.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fixfeed/internal/model"
)

// Config holds the PG_* connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects and pings the database within a 5-second budget.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("postgres connected")
	return &Store{pool: pool, log: log}, nil
}

// Pool returns the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// tickTable returns "ticks_<sym>_<side>".
func tickTable(symbol string, side model.Side) string {
	return "ticks_" + strings.ToLower(symbol) + "_" + side.Suffix()
}

// candleTable returns "candles_<sym>_bid"; only BID ticks roll into candles.
func candleTable(symbol string) string {
	return "candles_" + strings.ToLower(symbol) + "_bid"
}

// LoadCurrencyPairs reads every catalog row. Pairs with a NULL contract size
// are returned as ineligible rather than skipped.
func (s *Store) LoadCurrencyPairs(ctx context.Context) ([]model.CurrencyPair, error) {
	rows, err := s.pool.Query(ctx, `SELECT currpair, contractsize::text FROM currpairdetails`)
	if err != nil {
		return nil, fmt.Errorf("load currency pairs: %w", err)
	}
	defer rows.Close()

	var pairs []model.CurrencyPair
	for rows.Next() {
		var symbol string
		var size *string
		if err := rows.Scan(&symbol, &size); err != nil {
			return nil, fmt.Errorf("scan currency pair: %w", err)
		}
		p := model.CurrencyPair{Symbol: symbol}
		if size != nil {
			d, err := decimal.NewFromString(*size)
			if err != nil {
				return nil, fmt.Errorf("contract size for %s: %w", symbol, err)
			}
			p.ContractSize = d
			p.HasContractSize = true
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate currency pairs: %w", err)
	}
	return pairs, nil
}

// ContractSize re-reads a single pair's contract size. This is the fallback
// for symbols whose size was NULL at boot; it errors when the size is still
// unknown.
func (s *Store) ContractSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var size *string
	err := s.pool.QueryRow(ctx,
		`SELECT contractsize::text FROM currpairdetails WHERE currpair = $1`, symbol).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("contract size: unknown symbol %s", symbol)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("contract size query for %s: %w", symbol, err)
	}
	if size == nil {
		return decimal.Decimal{}, fmt.Errorf("contract size for %s is null", symbol)
	}
	d, err := decimal.NewFromString(*size)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("contract size for %s: %w", symbol, err)
	}
	return d, nil
}

// EnsureTickTables creates the bid and ask tick tables for symbol if absent.
func (s *Store) EnsureTickTables(ctx context.Context, symbol string) error {
	for _, side := range []model.Side{model.SideBid, model.SideAsk} {
		name := tickTable(symbol, side)
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ticktime timestamptz NOT NULL,
			lots     integer PRIMARY KEY,
			price    numeric NOT NULL
		)`, name)
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure table %s: %w", name, err)
		}
	}
	return nil
}

// EnsureCandleTable creates the bid candle table for symbol if absent.
func (s *Store) EnsureCandleTable(ctx context.Context, symbol string) error {
	name := candleTable(symbol)
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		candlesize text,
		lots       smallint,
		candletime timestamptz,
		open       numeric(12,5),
		high       numeric(12,5),
		low        numeric(12,5),
		close      numeric(12,5),
		PRIMARY KEY (candlesize, lots, candletime)
	)`, name)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure table %s: %w", name, err)
	}
	return nil
}

// InsertTick appends one tick. The tick tables key on lots alone, so a second
// tick with an already-seen lot value is silently skipped by the
// ON CONFLICT clause.
func (s *Store) InsertTick(ctx context.Context, t model.Tick) error {
	q := fmt.Sprintf(`INSERT INTO %s (ticktime, lots, price) VALUES ($1, $2, $3)
		ON CONFLICT (lots) DO NOTHING`, tickTable(t.Symbol, t.Side))
	if _, err := s.pool.Exec(ctx, q, t.TickTime, t.Lots, t.Price.String()); err != nil {
		return fmt.Errorf("insert tick %s/%s: %w", t.Symbol, t.Side, err)
	}
	return nil
}

// CandleExists reports whether a row exists for the composite key.
func (s *Store) CandleExists(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE candlesize = $1 AND lots = $2 AND candletime = $3`,
		candleTable(symbol))
	var one int
	err := s.pool.QueryRow(ctx, q, timeframe, lots, candleTime).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("candle lookup %s/%s: %w", symbol, timeframe, err)
	}
	return true, nil
}

// UpdateCandle folds price into an existing row's running extrema and close.
// GREATEST/LEAST keep the update idempotent under job retries.
func (s *Store) UpdateCandle(ctx context.Context, symbol, timeframe string, lots int16, candleTime time.Time, price decimal.Decimal) error {
	q := fmt.Sprintf(`UPDATE %s
		SET high = GREATEST(high, $1), low = LEAST(low, $1), close = $1
		WHERE candlesize = $2 AND lots = $3 AND candletime = $4`, candleTable(symbol))
	if _, err := s.pool.Exec(ctx, q, price.String(), timeframe, lots, candleTime); err != nil {
		return fmt.Errorf("update candle %s/%s: %w", symbol, timeframe, err)
	}
	return nil
}

// InsertCandle writes a new candle row.
func (s *Store) InsertCandle(ctx context.Context, c model.Candle) error {
	q := fmt.Sprintf(`INSERT INTO %s (candlesize, lots, candletime, open, high, low, close)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, candleTable(c.Symbol))
	_, err := s.pool.Exec(ctx, q, c.Timeframe, c.Lots, c.CandleTime,
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String())
	if err != nil {
		return fmt.Errorf("insert candle %s/%s: %w", c.Symbol, c.Timeframe, err)
	}
	return nil
}

// ReadTicks returns a symbol's stored ticks for one side, oldest first.
// Used by bootstrap to hydrate the cache lists.
func (s *Store) ReadTicks(ctx context.Context, symbol string, side model.Side) ([]model.Tick, error) {
	q := fmt.Sprintf(`SELECT ticktime, lots, price::text FROM %s ORDER BY ticktime`,
		tickTable(symbol, side))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read ticks %s/%s: %w", symbol, side, err)
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var (
			tickTime time.Time
			lots     int64
			price    string
		)
		if err := rows.Scan(&tickTime, &lots, &price); err != nil {
			return nil, fmt.Errorf("scan tick %s/%s: %w", symbol, side, err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("tick price %s/%s: %w", symbol, side, err)
		}
		ticks = append(ticks, model.Tick{
			Symbol:   symbol,
			Side:     side,
			TickTime: tickTime,
			Lots:     lots,
			Price:    d,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks %s/%s: %w", symbol, side, err)
	}
	return ticks, nil
}

// ReadCandles returns a symbol's stored candles, oldest first.
func (s *Store) ReadCandles(ctx context.Context, symbol string) ([]model.Candle, error) {
	q := fmt.Sprintf(`SELECT candlesize, lots, candletime, open::text, high::text, low::text, close::text
		FROM %s ORDER BY candletime`, candleTable(symbol))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read candles %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			c          model.Candle
			o, h, l, x string
		)
		if err := rows.Scan(&c.Timeframe, &c.Lots, &c.CandleTime, &o, &h, &l, &x); err != nil {
			return nil, fmt.Errorf("scan candle %s: %w", symbol, err)
		}
		var err error
		if c.Open, err = decimal.NewFromString(o); err != nil {
			return nil, fmt.Errorf("candle open %s: %w", symbol, err)
		}
		if c.High, err = decimal.NewFromString(h); err != nil {
			return nil, fmt.Errorf("candle high %s: %w", symbol, err)
		}
		if c.Low, err = decimal.NewFromString(l); err != nil {
			return nil, fmt.Errorf("candle low %s: %w", symbol, err)
		}
		if c.Close, err = decimal.NewFromString(x); err != nil {
			return nil, fmt.Errorf("candle close %s: %w", symbol, err)
		}
		c.Symbol = symbol
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles %s: %w", symbol, err)
	}
	return candles, nil
}
