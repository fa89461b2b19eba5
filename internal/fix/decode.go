package fix

import (
	"bytes"
	"strconv"
	"strings"
)

var (
	frameStart   = []byte("8=FIX")
	checksumMark = []byte{SOH, '1', '0', '='}
)

// Decoder incrementally extracts complete frames from a TCP byte stream.
// Feed appends raw socket bytes; Next consumes at most one complete frame per
// call and leaves partial trailing bytes buffered for the next read, so a
// frame split across reads is reassembled and concatenated frames are
// separated. Inbound checksums are not validated.
type Decoder struct {
	buf []byte
}

// Feed appends raw socket bytes to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting in the decode buffer.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts the next complete frame, bounded by the "8=FIX" start marker
// and the <SOH>10=NNN<SOH> trailer. ok is false when no complete frame is
// buffered yet. Bytes preceding the start marker are discarded.
func (d *Decoder) Next() (msg *Message, ok bool) {
	start := bytes.Index(d.buf, frameStart)
	if start == -1 {
		return nil, false
	}
	if start > 0 {
		d.buf = d.buf[start:]
	}
	mark := bytes.Index(d.buf, checksumMark)
	if mark == -1 {
		return nil, false
	}
	term := bytes.IndexByte(d.buf[mark+1:], SOH)
	if term == -1 {
		return nil, false
	}
	end := mark + 1 + term + 1
	raw := string(d.buf[:end])
	d.buf = d.buf[end:]
	return parse(raw), true
}

// parse splits one raw frame into the flat field map plus, for market-data
// message types, the repeating-group entries. A new entry opens at every
// tag 269; tags 270/271/273 attach to the entry most recently opened. Fields
// without an '=' are skipped silently. The flat map keeps the last value seen
// per tag.
func parse(raw string) *Message {
	msg := &Message{Fields: make(map[int]string, 16)}
	pos := 0
	for pos < len(raw) {
		var seg string
		if idx := strings.IndexByte(raw[pos:], SOH); idx == -1 {
			seg = raw[pos:]
			pos = len(raw)
		} else {
			seg = raw[pos : pos+idx]
			pos += idx + 1
		}
		if seg == "" {
			continue
		}
		eq := strings.IndexByte(seg, '=')
		if eq == -1 {
			continue
		}
		tag, err := strconv.Atoi(seg[:eq])
		if err != nil {
			continue
		}
		value := seg[eq+1:]
		msg.Fields[tag] = value

		switch tag {
		case TagMDEntryType:
			msg.Entries = append(msg.Entries, MDEntry{EntryType: value})
		case TagMDEntryPx:
			if n := len(msg.Entries); n > 0 {
				msg.Entries[n-1].Price = value
			}
		case TagMDEntrySize:
			if n := len(msg.Entries); n > 0 {
				msg.Entries[n-1].Size = value
			}
		case TagMDEntryTime:
			if n := len(msg.Entries); n > 0 {
				msg.Entries[n-1].Time = value
			}
		}
	}
	msg.Type = msg.Fields[TagMsgType]
	if msg.Type != MsgTypeMarketDataSnapshot && msg.Type != MsgTypeMarketDataIncremental {
		msg.Entries = nil
	}
	return msg
}
