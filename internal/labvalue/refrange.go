package labvalue

import (
	"regexp"
	"strconv"
	"strings"
)

// ReferenceRange is the structured form of a printed reference interval.
// Original always holds the raw text so reports can be audited and redrawn
// exactly as printed.
type ReferenceRange struct {
	Min        *float64 `json:"min"`
	Max        *float64 `json:"max"`
	Original   string   `json:"original"`
	IsValid    bool     `json:"is_valid"`
	IsNegative bool     `json:"is_negative,omitempty"`
}

var (
	twoSidedRe   = regexp.MustCompile(`^(-?(?:\d+\.?\d*|\.\d+))\s*[-~～–]\s*(-?(?:\d+\.?\d*|\.\d+))$`)
	upperOnlyRe  = regexp.MustCompile(`^[<≤＜]\s*=?\s*` + numberPattern + `$`)
	lowerOnlyRe  = regexp.MustCompile(`^[>≥＞]\s*=?\s*` + numberPattern + `$`)
	thousandsSep = regexp.MustCompile(`(\d),(\d{3})`)
)

var negativeMarkers = []string{"음성", "negative", "陰性"}

// ParseReferenceRange parses raw reference text such as "5.65-8.87", "<14",
// or "음성(-)". Unrecognized text yields IsValid=false with the original kept.
func ParseReferenceRange(raw string) ReferenceRange {
	r := ReferenceRange{Original: raw}
	s := strings.TrimSpace(raw)

	if s == "" || s == "-" || s == "−" {
		return r
	}

	if isNegativeMarker(s) {
		r.IsValid = true
		r.IsNegative = true
		return r
	}

	s = thousandsSep.ReplaceAllString(s, "$1$2")

	if m := twoSidedRe.FindStringSubmatch(s); m != nil {
		lo, okLo := parseFloat(m[1])
		hi, okHi := parseFloat(m[2])
		if okLo && okHi {
			r.Min, r.Max = &lo, &hi
			r.IsValid = true
		}
		return r
	}

	if m := upperOnlyRe.FindStringSubmatch(s); m != nil {
		if hi, ok := parseFloat(m[1]); ok {
			r.Max = &hi
			r.IsValid = true
		}
		return r
	}

	if m := lowerOnlyRe.FindStringSubmatch(s); m != nil {
		if lo, ok := parseFloat(m[1]); ok {
			r.Min = &lo
			r.IsValid = true
		}
		return r
	}

	return r
}

func isNegativeMarker(s string) bool {
	if s == "(-)" || s == "(−)" {
		return true
	}
	lower := strings.ToLower(s)
	for _, marker := range negativeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// FormatReferenceRange renders a range for display. Two-sided ranges render as
// "{min}-{max}"; anything that did not parse falls back to the original text.
func FormatReferenceRange(r ReferenceRange) string {
	switch {
	case r.IsNegative:
		if strings.TrimSpace(r.Original) != "" {
			return r.Original
		}
		return "음성"
	case !r.IsValid:
		return r.Original
	case r.Min != nil && r.Max != nil:
		return formatNumber(*r.Min) + "-" + formatNumber(*r.Max)
	case r.Max != nil:
		return "<" + formatNumber(*r.Max)
	case r.Min != nil:
		return ">" + formatNumber(*r.Min)
	}
	return r.Original
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
