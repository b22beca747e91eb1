package transport

import "strconv"

// ParseFirstFloat scans s for the first signed decimal number (optionally
// with a fractional part) and returns it. Replies from the inlet/outlet
// controllers often carry a units suffix or leading echo text ("P=12.340
// PSI"), so this is a scan for the first numeric token, not a strict parse.
func ParseFirstFloat(s string) (float64, bool) {
	n := len(s)
	for i := 0; i < n; i++ {
		if !isDigit(s[i]) {
			continue
		}
		start := i
		if start > 0 && (s[start-1] == '+' || s[start-1] == '-') {
			start--
		}
		end := i
		for end < n && isDigit(s[end]) {
			end++
		}
		if end < n && s[end] == '.' {
			end++
			for end < n && isDigit(s[end]) {
				end++
			}
		}
		if v, err := strconv.ParseFloat(s[start:end], 64); err == nil {
			return v, true
		}
		i = end - 1
	}
	return 0, false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
