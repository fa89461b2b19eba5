package model

import "time"

// Timeframe is one candle resolution. Duration is the bucket width; bucket
// boundaries are aligned to the Unix epoch in UTC.
type Timeframe struct {
	Name     string
	Duration time.Duration
}

// Timeframes lists the active candle resolutions in build order.
var Timeframes = []Timeframe{
	{Name: "M1", Duration: time.Minute},
	{Name: "H1", Duration: time.Hour},
	{Name: "D1", Duration: 24 * time.Hour},
}

// Bucket floors t to the start of its bucket:
// candletime = floor(tickMs / durationMs) * durationMs.
// A tick at exactly bucket+Duration belongs to the next bucket.
func (tf Timeframe) Bucket(t time.Time) time.Time {
	ms := t.UnixMilli()
	dur := tf.Duration.Milliseconds()
	return time.UnixMilli(ms - ms%dur).UTC()
}
