package model

// Itoa64 is a minimal int64-to-string converter for hot-path usage.
// Avoids importing strconv to eliminate unnecessary overhead when composing
// per-quote job ids.
func Itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
