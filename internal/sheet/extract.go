package sheet

import (
	"fmt"
	"regexp"
	"strings"
)

// SubField names one of the values a combined cell can carry.
type SubField string

const (
	SubSeri SubField = "seri"
	SubLot  SubField = "lot"
	SubSkt  SubField = "skt"
	SubUbb  SubField = "ubb"
)

// SubFields is the fixed processing order for combined-cell values.
var SubFields = []SubField{SubSeri, SubLot, SubSkt, SubUbb}

// Extracted holds the labelled values pulled out of one combined cell, for
// example `LOT:25PCB00842\SKT:31.08.2029`. Skt is normalized to YYYY-MM-DD.
type Extracted struct {
	Seri string `json:"seri,omitempty"`
	Lot  string `json:"lot,omitempty"`
	Skt  string `json:"skt,omitempty"`
	Ubb  string `json:"ubb,omitempty"`
}

func (e Extracted) Get(f SubField) string {
	switch f {
	case SubSeri:
		return e.Seri
	case SubLot:
		return e.Lot
	case SubSkt:
		return e.Skt
	case SubUbb:
		return e.Ubb
	}
	return ""
}

func (e *Extracted) set(f SubField, v string) {
	switch f {
	case SubSeri:
		e.Seri = v
	case SubLot:
		e.Lot = v
	case SubSkt:
		e.Skt = v
	case SubUbb:
		e.Ubb = v
	}
}

func (e Extracted) empty() bool {
	return e.Seri == "" && e.Lot == "" && e.Skt == "" && e.Ubb == ""
}

// Captures run until the next '/' or '\' or the end of the cell. Labels
// separated by spaces instead of a delimiter over-capture into the previous
// value.
var combinedPatterns = []struct {
	field SubField
	re    *regexp.Regexp
}{
	{SubSeri, regexp.MustCompile(`(?i)(?:SERI|SERİ):\s*([^/\\]+)`)},
	{SubLot, regexp.MustCompile(`(?i)LOT:\s*([^/\\]+)`)},
	{SubSkt, regexp.MustCompile(`(?i)SKT:\s*(\d{2}[./]\d{2}[./]\d{4})`)},
	{SubUbb, regexp.MustCompile(`(?i)UBB:\s*([^/\\]+)`)},
}

var sktSeparator = regexp.MustCompile(`[./]`)

// HasCombinedData reports whether at least two labels match the cell.
func HasCombinedData(cell string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return false
	}
	matches := 0
	for _, p := range combinedPatterns {
		if p.re.MatchString(cell) {
			matches++
		}
	}
	return matches >= 2
}

// ExtractCombined pulls every labelled value out of a cell regardless of what
// HasCombinedData says. It returns nil when nothing was found.
func ExtractCombined(cell string) *Extracted {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}

	var out Extracted
	for _, p := range combinedPatterns {
		m := p.re.FindStringSubmatch(cell)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if p.field == SubSkt {
			value = normalizeSkt(value)
		}
		out.set(p.field, value)
	}

	if out.empty() {
		return nil
	}
	return &out
}

// normalizeSkt turns DD.MM.YYYY or DD/MM/YYYY into YYYY-MM-DD.
func normalizeSkt(raw string) string {
	parts := sktSeparator.Split(raw, -1)
	if len(parts) != 3 {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", parts[2], pad2(parts[1]), pad2(parts[0]))
}

func pad2(s string) string {
	if len(s) < 2 {
		return strings.Repeat("0", 2-len(s)) + s
	}
	return s
}
