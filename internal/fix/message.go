// Package fix implements the FIX 4.4 framing this feed speaks: tag=value
// fields separated by SOH, a 3-digit mod-256 checksum trailer, and the
// market-data repeating group anchored at tag 269.
//
// The codec is deliberately not a compliant FIX engine. Checksums are
// computed on send but never validated on receive, and nothing here tracks
// inbound sequence numbers; the session layer owns those decisions.
package fix

// Message is one decoded FIX frame: the message type, a flat map of the last
// value seen per tag, and — for Market Data Snapshot (W) and Incremental
// Refresh (X) only — the ordered repeating-group entries.
type Message struct {
	Type    string
	Fields  map[int]string
	Entries []MDEntry
}

// MDEntry is a single market-data repeating-group entry. A new entry opens at
// every occurrence of tag 269; only tags 269, 270, 271 and 273 are collected
// per entry, all kept as wire strings.
type MDEntry struct {
	EntryType string // 269
	Price     string // 270
	Size      string // 271
	Time      string // 273, "HH:MM:SS" when present
}

// Get returns the flat-map value for tag, or "" when absent.
func (m *Message) Get(tag int) string {
	return m.Fields[tag]
}

// Has reports whether tag appeared in the frame.
func (m *Message) Has(tag int) bool {
	_, ok := m.Fields[tag]
	return ok
}
