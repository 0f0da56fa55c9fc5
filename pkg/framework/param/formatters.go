package param

import (
	"strconv"
	"strings"
)

// silenceDB is what "-inf" parses to; Set clamps it to the range.
const silenceDB = -96.0

// FormatDecibels renders a plain dB value, e.g. "-6.0 dB".
func FormatDecibels(db float64) string {
	if db <= silenceDB {
		return "-inf dB"
	}
	return strconv.FormatFloat(db, 'f', 1, 64) + " dB"
}

// ParseDecibels accepts "-6", "-6 dB" or "-inf".
func ParseDecibels(s string) (float64, error) {
	s = trimUnit(s, "db")
	if s == "-inf" || s == "-∞" {
		return silenceDB, nil
	}
	return strconv.ParseFloat(s, 64)
}

// FormatPercent renders a 0..1 value as a whole percentage.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}

// ParsePercent accepts "25%" or "25" and returns 0.25.
func ParsePercent(s string) (float64, error) {
	v, err := strconv.ParseFloat(trimUnit(s, "%"), 64)
	return v / 100, err
}

func trimUnit(s, unit string) string {
	s = strings.TrimSpace(s)
	if n := len(s) - len(unit); n >= 0 && strings.EqualFold(s[n:], unit) {
		s = s[:n]
	}
	return strings.TrimSpace(s)
}
