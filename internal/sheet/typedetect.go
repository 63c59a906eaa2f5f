package sheet

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mjhen/medstock/server/internal/catalog"
)

const typeSampleLimit = 10

// numberPattern accepts the numeric literal forms a spreadsheet export
// produces in text cells: decimals with optional exponent, Infinity and
// 0x/0o/0b integers. NaN is deliberately absent.
var numberPattern = regexp.MustCompile(`^(?:[+-]?(?:Infinity|(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)|0[xX][0-9a-fA-F]+|0[oO][0-7]+|0[bB][01]+)$`)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006/01/02",
	"2006/1/2",
	"02.01.2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"02-Jan-06",
}

// IsNumeric reports whether a trimmed cell value parses fully as a number.
func IsNumeric(value string) bool {
	return numberPattern.MatchString(strings.TrimSpace(value))
}

// ParseNumber converts a numeric cell. Values IsNumeric rejects, and the
// infinities, report false.
func ParseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if !numberPattern.MatchString(value) {
		return 0, false
	}
	if len(value) > 2 && value[0] == '0' && strings.ContainsRune("xXoObB", rune(value[1])) {
		n, err := strconv.ParseInt(value, 0, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// IsDateLike reports whether a trimmed cell value parses as a calendar date in
// one of the accepted layouts.
func IsDateLike(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// DetectType infers a column type from its cell values. Only the first ten
// non-empty values are inspected and the numeric check runs before the date
// check.
func DetectType(values []string) catalog.TypeTag {
	var hasNumber, hasDate, hasText bool
	inspected := 0
	for _, v := range values {
		if v == "" {
			continue
		}
		if inspected == typeSampleLimit {
			break
		}
		inspected++

		switch trimmed := strings.TrimSpace(v); {
		case trimmed != "" && IsNumeric(trimmed):
			hasNumber = true
		case IsDateLike(trimmed):
			hasDate = true
		default:
			hasText = true
		}
	}

	switch {
	case inspected == 0:
		return catalog.TypeText
	case hasDate && !hasNumber && !hasText:
		return catalog.TypeDate
	case hasNumber && !hasText && !hasDate:
		return catalog.TypeNumber
	case hasText:
		return catalog.TypeMixed
	default:
		return catalog.TypeText
	}
}
