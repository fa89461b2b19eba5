package model

// Side is the quote side of a tick, derived from FIX MDEntryType (tag 269):
// "0" maps to BID, "1" to ASK.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Suffix returns the lowercase form used in table names and cache keys
// ("bid" / "ask").
func (s Side) Suffix() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// SideFromEntryType maps a FIX MDEntryType code to a side. Entry types other
// than bid ("0") and offer ("1") report ok=false and are dropped upstream.
func SideFromEntryType(code string) (Side, bool) {
	switch code {
	case "0":
		return SideBid, true
	case "1":
		return SideAsk, true
	default:
		return "", false
	}
}
