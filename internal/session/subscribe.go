package session

import "fixfeed/internal/fix"

// subscribeAll sends one Market Data Request per eligible pair: snapshot plus
// updates, full book, BID and ASK entry types, one symbol per request. The
// pass runs once per logon; a dropped connection resubscribes only through a
// full reconnect.
func (e *Engine) subscribeAll() {
	for _, p := range e.pairs {
		if err := e.subscribe(p.Symbol); err != nil {
			e.log.Error().Err(err).Str("symbol", p.Symbol).Msg("subscribe failed")
			return
		}
		e.log.Info().Str("symbol", p.Symbol).Msg("subscribed")
	}
}

func (e *Engine) subscribe(symbol string) error {
	reqID := e.newReqID()

	// Snapshots usually echo tag 55; the request map covers venues that
	// only echo 262.
	e.mu.Lock()
	e.reqSyms[reqID] = symbol
	e.mu.Unlock()

	return e.send(fix.MsgTypeMarketDataRequest, []fix.Field{
		{Tag: fix.TagMDReqID, Value: reqID},
		{Tag: fix.TagSubscriptionRequestType, Value: fix.SubscriptionSnapshotUpdates},
		{Tag: fix.TagMarketDepth, Value: fix.MarketDepthFullBook},
		{Tag: fix.TagNoMDEntryTypes, Value: "2"},
		{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeBid},
		{Tag: fix.TagMDEntryType, Value: fix.MDEntryTypeOffer},
		{Tag: fix.TagNoRelatedSym, Value: "1"},
		{Tag: fix.TagSymbol, Value: symbol},
	})
}
