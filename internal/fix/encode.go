package fix

import (
	"bytes"
	"fmt"
	"strconv"
)

// headerOrder is the fixed emission order for session header tags. Remaining
// body fields follow in insertion order.
var headerOrder = [5]int{TagMsgType, TagSenderCompID, TagTargetCompID, TagMsgSeqNum, TagSendingTime}

// Field is one tag=value pair in emission order.
type Field struct {
	Tag   int
	Value string
}

// Builder assembles a single outbound frame. Set keeps insertion order and
// allows repeated tags — a Market Data Request carries 269 twice. Bytes
// computes the body length from the bytes actually emitted, never from a
// character count, and appends the checksum trailer.
type Builder struct {
	fields []Field
}

// NewBuilder returns an empty frame builder.
func NewBuilder() *Builder {
	return &Builder{fields: make([]Field, 0, 16)}
}

// Set appends tag=value to the frame body.
func (b *Builder) Set(tag int, value string) *Builder {
	b.fields = append(b.fields, Field{Tag: tag, Value: value})
	return b
}

// Bytes emits the complete frame:
//
//	8=FIX.4.4 <SOH> 9=<bodyLen> <SOH> <body fields> 10=<checksum> <SOH>
//
// where the body starts with the header tags 35, 49, 56, 34, 52 in that
// order, the body length counts every body byte including the terminating
// SOH, and the checksum is the byte sum mod 256 of everything up to and
// including the SOH after the body, zero-padded to three digits.
func (b *Builder) Bytes() []byte {
	var body bytes.Buffer
	emitted := make([]bool, len(b.fields))
	for _, tag := range headerOrder {
		for i, f := range b.fields {
			if !emitted[i] && f.Tag == tag {
				writeField(&body, f)
				emitted[i] = true
			}
		}
	}
	for i, f := range b.fields {
		if !emitted[i] {
			writeField(&body, f)
		}
	}

	var frame bytes.Buffer
	frame.Grow(body.Len() + 32)
	frame.WriteString("8=" + BeginString)
	frame.WriteByte(SOH)
	frame.WriteString("9=" + strconv.Itoa(body.Len()))
	frame.WriteByte(SOH)
	frame.Write(body.Bytes())
	frame.WriteString("10=" + Checksum(frame.Bytes()))
	frame.WriteByte(SOH)
	return frame.Bytes()
}

func writeField(buf *bytes.Buffer, f Field) {
	buf.WriteString(strconv.Itoa(f.Tag))
	buf.WriteByte('=')
	buf.WriteString(f.Value)
	buf.WriteByte(SOH)
}

// Checksum returns the FIX checksum of b: the byte sum mod 256, zero-padded
// to three digits.
func Checksum(b []byte) string {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return fmt.Sprintf("%03d", sum%256)
}
