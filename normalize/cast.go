package normalize

import (
	"regexp"
	"strconv"
	"time"
)

var (
	integerPattern = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?([0-9]+\.[0-9]*|\.[0-9]+|[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// float64 holds 15 decimal digits without loss
const maxFloatDigits = 15

// dateTimeLayouts are tried in order; the first one that parses wins
var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02",
}

// CastValue infers the type of raw using the process-local time zone
func CastValue(raw string) any {
	return CastValueIn(raw, time.Local)
}

// CastValueIn converts numeric strings to int64 or float64 and date-time
// strings to epoch seconds interpreted in loc. Anything else is returned as is.
func CastValueIn(raw string, loc *time.Location) any {
	if raw == "" {
		return raw
	}

	if integerPattern.MatchString(raw) {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		// out of int64 range: keep the exact text
		return raw
	}

	if decimalPattern.MatchString(raw) {
		if significantDigits(raw) > maxFloatDigits {
			return raw
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	}

	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.Unix()
		}
	}

	return raw
}

// significantDigits counts mantissa digits, ignoring sign, point, exponent
// and leading zeros.
func significantDigits(raw string) int {
	n, leading := 0, true
	for _, c := range raw {
		if c == 'e' || c == 'E' {
			break
		}
		if c < '0' || c > '9' {
			continue
		}
		if leading && c == '0' {
			continue
		}
		leading = false
		n++
	}
	return n
}
