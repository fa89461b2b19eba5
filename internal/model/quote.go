package model

// RawQuote is a single market-data entry as it came off the wire, before
// normalization. Price and Size stay as wire strings so no precision is lost
// between the codec and the decimal math in the normalizer.
type RawQuote struct {
	Symbol     string `json:"symbol"`
	Side       Side   `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	SourceTime string `json:"source_time,omitempty"` // FIX tag 273, "HH:MM:SS", may be empty
	ReqID      string `json:"req_id,omitempty"`      // MDReqID the quote answers, if known
}
