// Package session owns the FIX TCP connection: logon, inbound dispatch,
// subscription scheduling, reconnection, and graceful logout. The engine is
// the only writer of the socket and of the outbound sequence counter.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fixfeed/internal/fix"
	"fixfeed/internal/model"
)

// ErrReconnectsExhausted is returned by Run when the reconnect budget is
// spent. The caller decides what happens next; the engine never exits the
// process itself.
var ErrReconnectsExhausted = errors.New("session: reconnect attempts exhausted")

// QuoteSink admits extracted quotes into the tick pipeline. Implementations
// must not block; a false return means the quote was dropped.
type QuoteSink interface {
	EnqueueQuote(id string, q model.RawQuote) bool
}

// CacheHealer restores the cache connection while the session is down.
type CacheHealer interface {
	EnsureConnected(ctx context.Context) error
}

// Config carries the FIX endpoint, identities, and session timers.
type Config struct {
	Host         string
	Port         string
	SenderCompID string
	TargetCompID string
	Username     string
	Password     string

	// DialTimeout bounds a single TCP connect attempt.
	DialTimeout time.Duration
	// SubscribeDelay is the pause between the logon response and the
	// subscription pass.
	SubscribeDelay time.Duration
	// ReconnectDelay is the fixed pause between reconnect attempts.
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive failed connect attempts before Run
	// gives up. The counter resets on every established connection.
	MaxReconnects int
}

func (cfg Config) withDefaults() Config {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.SubscribeDelay <= 0 {
		cfg.SubscribeDelay = time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 1000
	}
	return cfg
}

// Engine is the FIX session state machine:
// Disconnected -> Connecting -> LoggedOn -> Disconnected.
type Engine struct {
	cfg   Config
	pairs []model.CurrencyPair
	sink  QuoteSink
	cache CacheHealer
	log   zerolog.Logger

	mu       sync.Mutex
	conn     net.Conn
	seq      uint64
	loggedOn bool
	closing  bool
	reqSyms  map[string]string
	subTimer *time.Timer

	quit chan struct{} // closed by Shutdown
	done chan struct{} // closed when Run returns

	now      func() time.Time
	newReqID func() string

	// Hooks for metrics wiring; all may be nil.
	OnConnected    func()
	OnDisconnected func()
	OnLoggedOn     func()
	OnInbound      func(msgType string)
	OnQuote        func(admitted bool)
}

// New wires the engine over the eligible pair set. sink receives extracted
// quotes; cache, when non-nil, is healed in parallel with reconnect waits.
func New(cfg Config, pairs []model.CurrencyPair, sink QuoteSink, cache CacheHealer, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		pairs:    pairs,
		sink:     sink,
		cache:    cache,
		log:      log.With().Str("component", "session").Logger(),
		reqSyms:  make(map[string]string),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		newReqID: func() string { return "MDR_" + uuid.NewString() },
	}
}

// LoggedOn reports whether the FIX session is established. Used by health
// checks.
func (e *Engine) LoggedOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loggedOn
}

// Run drives the session until ctx is canceled, Shutdown is called, or the
// reconnect budget is exhausted. In the last case the feed stays down and
// the process stays alive.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	addr := net.JoinHostPort(e.cfg.Host, e.cfg.Port)
	failures := 0
	for {
		if e.stopped(ctx) {
			return nil
		}
		conn, err := e.dial(ctx, addr)
		if err != nil {
			failures++
			e.log.Error().Err(err).Str("addr", addr).Int("attempt", failures).Msg("connect failed")
			if failures >= e.cfg.MaxReconnects {
				e.log.Error().Int("attempts", failures).Msg("giving up on reconnection")
				return ErrReconnectsExhausted
			}
			if !e.waitReconnect(ctx) {
				return nil
			}
			continue
		}
		failures = 0
		e.serve(ctx, conn)
		if e.stopped(ctx) {
			return nil
		}
		if !e.waitReconnect(ctx) {
			return nil
		}
	}
}

func (e *Engine) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-e.quit:
		return true
	default:
		return false
	}
}

func (e *Engine) dial(ctx context.Context, addr string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()
	var d net.Dialer
	return d.DialContext(dctx, "tcp", addr)
}

// serve owns conn from logon to teardown. It returns when the socket dies,
// ctx is canceled, or the peer hangs up after a Shutdown half-close.
func (e *Engine) serve(ctx context.Context, conn net.Conn) {
	e.mu.Lock()
	e.conn = conn
	e.seq = 0
	e.loggedOn = false
	e.mu.Unlock()

	e.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connected")
	if e.OnConnected != nil {
		e.OnConnected()
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := e.sendLogon(); err != nil {
		e.log.Error().Err(err).Msg("logon send failed")
	} else {
		e.readLoop(conn)
	}

	close(stop)
	e.teardown(conn)
}

// teardown destroys the connection state so the next attempt starts from a
// fresh socket and sequence 0.
func (e *Engine) teardown(conn net.Conn) {
	conn.Close()
	e.mu.Lock()
	if e.subTimer != nil {
		e.subTimer.Stop()
		e.subTimer = nil
	}
	e.conn = nil
	e.loggedOn = false
	e.mu.Unlock()

	e.log.Warn().Msg("disconnected")
	if e.OnDisconnected != nil {
		e.OnDisconnected()
	}
}

func (e *Engine) readLoop(conn net.Conn) {
	var dec fix.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, ok := dec.Next()
				if !ok {
					break
				}
				e.dispatch(msg)
			}
		}
		if err != nil {
			e.log.Warn().Err(err).Msg("read loop ended")
			return
		}
	}
}

// dispatch routes one inbound message. Inbound sequence numbers are logged
// but never gap-checked; heartbeats and test requests are acknowledged in
// logs only, with no response frame.
func (e *Engine) dispatch(m *fix.Message) {
	if e.OnInbound != nil {
		e.OnInbound(m.Type)
	}
	log := e.log.With().Str("type", m.Type).Str("seq", m.Get(fix.TagMsgSeqNum)).Logger()

	switch m.Type {
	case fix.MsgTypeMarketDataSnapshot, fix.MsgTypeMarketDataIncremental:
		e.handleMarketData(m)
	case fix.MsgTypeLogon:
		e.handleLogon(log)
	case fix.MsgTypeReject:
		log.Warn().Str("reason", m.Get(fix.TagText)).Msg("session reject")
	case fix.MsgTypeHeartbeat:
		log.Debug().Msg("heartbeat")
	case fix.MsgTypeTestRequest:
		log.Debug().Msg("test request")
	case fix.MsgTypeLogout:
		log.Warn().Msg("peer logout")
		e.closeConn()
	default:
		log.Debug().Msg(fix.TypeName(m.Type))
	}
}

// closeConn drops the socket on a peer-initiated disconnect. The read loop
// ends, teardown clears the logged-on state, and the reconnect loop takes
// over.
func (e *Engine) closeConn() {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (e *Engine) handleLogon(log zerolog.Logger) {
	e.mu.Lock()
	e.loggedOn = true
	delay := e.cfg.SubscribeDelay
	e.subTimer = time.AfterFunc(delay, e.subscribeAll)
	e.mu.Unlock()

	log.Info().Dur("subscribe_in", delay).Msg("logged on")
	if e.OnLoggedOn != nil {
		e.OnLoggedOn()
	}
}

// handleMarketData turns the repeating-group entries of a snapshot or
// incremental refresh into raw quotes. Entries without a BID/ASK entry type
// or without a price are skipped.
func (e *Engine) handleMarketData(m *fix.Message) {
	symbol := m.Get(fix.TagSymbol)
	reqID := m.Get(fix.TagMDReqID)
	if symbol == "" {
		symbol = e.symbolForRequest(reqID)
	}
	if symbol == "" {
		e.log.Warn().Str("req_id", reqID).Msg("market data with no resolvable symbol")
		return
	}

	nowMs := e.now().UnixMilli()
	for _, entry := range m.Entries {
		side, ok := model.SideFromEntryType(entry.EntryType)
		if !ok || entry.Price == "" {
			continue
		}
		id := symbol + "_" + string(side) + "_" + model.Itoa64(nowMs)
		admitted := e.sink.EnqueueQuote(id, model.RawQuote{
			Symbol:     symbol,
			Side:       side,
			Price:      entry.Price,
			Size:       entry.Size,
			SourceTime: entry.Time,
			ReqID:      reqID,
		})
		if !admitted {
			e.log.Warn().Str("symbol", symbol).Str("side", string(side)).Msg("tick queue refused quote")
		}
		if e.OnQuote != nil {
			e.OnQuote(admitted)
		}
	}
}

func (e *Engine) symbolForRequest(reqID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reqSyms[reqID]
}

func (e *Engine) sendLogon() error {
	return e.send(fix.MsgTypeLogon, []fix.Field{
		{Tag: fix.TagEncryptMethod, Value: fix.EncryptMethodNone},
		{Tag: fix.TagHeartBtInt, Value: fix.HeartBtInterval},
		{Tag: fix.TagResetSeqNumFlag, Value: fix.ResetSeqNumYes},
		{Tag: fix.TagUsername, Value: e.cfg.Username},
		{Tag: fix.TagPassword, Value: e.cfg.Password},
	})
}

// send frames and writes one message, filling the session header fields and
// advancing the outbound sequence.
func (e *Engine) send(msgType string, body []fix.Field) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(msgType, body)
}

func (e *Engine) sendLocked(msgType string, body []fix.Field) error {
	if e.conn == nil {
		return errors.New("not connected")
	}
	e.seq++
	b := fix.NewBuilder().
		Set(fix.TagMsgType, msgType).
		Set(fix.TagSenderCompID, e.cfg.SenderCompID).
		Set(fix.TagTargetCompID, e.cfg.TargetCompID).
		Set(fix.TagMsgSeqNum, strconv.FormatUint(e.seq, 10)).
		Set(fix.TagSendingTime, e.now().UTC().Format(fix.TimeFormat))
	for _, f := range body {
		b.Set(f.Tag, f.Value)
	}
	if _, err := e.conn.Write(b.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", fix.TypeName(msgType), err)
	}
	e.log.Debug().Str("type", msgType).Uint64("seq", e.seq).Msg("sent")
	return nil
}

// waitReconnect pauses for the fixed reconnect delay, healing the cache
// connection in parallel. Returns false when the engine should stop instead
// of redialing.
func (e *Engine) waitReconnect(ctx context.Context) bool {
	if e.cache != nil {
		go func() {
			hctx, cancel := context.WithTimeout(ctx, e.cfg.ReconnectDelay)
			defer cancel()
			if err := e.cache.EnsureConnected(hctx); err != nil {
				e.log.Warn().Err(err).Msg("cache still down")
			}
		}()
	}
	t := time.NewTimer(e.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-e.quit:
		return false
	case <-t.C:
		return true
	}
}

// Shutdown sends a Logout when logged on, half-closes the socket so the peer
// sees a clean end of stream, and waits for the read loop to drain. When ctx
// expires first the socket is force-closed.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.closing = true
	close(e.quit)
	if e.subTimer != nil {
		e.subTimer.Stop()
		e.subTimer = nil
	}
	conn := e.conn
	if conn != nil && e.loggedOn {
		if err := e.sendLocked(fix.MsgTypeLogout, nil); err != nil {
			e.log.Warn().Err(err).Msg("logout send failed")
		}
	}
	if conn != nil {
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		} else {
			conn.Close()
		}
	}
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		if conn != nil {
			conn.Close()
		}
	}
}
