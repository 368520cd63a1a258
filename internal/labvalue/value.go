// Package labvalue normalizes the raw value, reference-range, and status
// tokens that OCR extracts from lab reports. Every function in this package is
// pure and total: malformed input degrades to a text value, an invalid range,
// or an Unknown status, so one bad token never aborts a whole report.
package labvalue

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ValueType classifies how a raw value token was interpreted.
type ValueType string

const (
	ValueNumeric     ValueType = "numeric"
	ValueLessThan    ValueType = "less_than"
	ValueGreaterThan ValueType = "greater_than"
	ValueSpecial     ValueType = "special"
	ValueText        ValueType = "text"
)

// ParsedValue is the typed form of a raw lab value.
type ParsedValue struct {
	Numeric  *float64  `json:"numeric"`
	Display  string    `json:"display"`
	Type     ValueType `json:"type"`
	HasError bool      `json:"has_error"`
}

// IsNumeric reports whether the value carries a number (exact or bound).
func (p ParsedValue) IsNumeric() bool { return p.Numeric != nil }

func (p ParsedValue) String() string { return p.Display }

const numberPattern = `([-+]?(?:\d+\.?\d*|\.\d+))`

var (
	specialValueRe = regexp.MustCompile(`^\*\s*` + numberPattern + `$`)
	lessThanRe     = regexp.MustCompile(`^(?:<=?|≤)\s*` + numberPattern + `$`)
	greaterThanRe  = regexp.MustCompile(`^(?:>=?|≥)\s*` + numberPattern + `$`)
	plainNumberRe  = regexp.MustCompile(`^` + numberPattern + `$`)
)

// ParseValue interprets a raw OCR value. raw may be nil, a string, any Go
// numeric type, or a json.Number. It never fails; unparseable input becomes
// a text value with a nil Numeric.
func ParseValue(raw any) ParsedValue {
	switch v := raw.(type) {
	case nil:
		return ParsedValue{Type: ValueText}
	case string:
		return parseValueString(v)
	case *string:
		if v == nil {
			return ParsedValue{Type: ValueText}
		}
		return parseValueString(*v)
	case json.Number:
		return parseValueString(v.String())
	}

	f, ok := numericInput(raw)
	if !ok {
		return ParsedValue{Type: ValueText}
	}
	display := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ParsedValue{Display: display, Type: ValueText}
	}
	return ParsedValue{Numeric: &f, Display: display, Type: ValueNumeric}
}

func parseValueString(raw string) ParsedValue {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedValue{Type: ValueText}
	}

	// Thousands separators go first so "1,390" and "<1,000" both parse.
	cleaned := strings.ReplaceAll(trimmed, ",", "")

	if m := specialValueRe.FindStringSubmatch(cleaned); m != nil {
		if f, ok := parseFloat(m[1]); ok {
			return ParsedValue{Numeric: &f, Display: raw, Type: ValueSpecial, HasError: true}
		}
	}
	if m := lessThanRe.FindStringSubmatch(cleaned); m != nil {
		if f, ok := parseFloat(m[1]); ok {
			return ParsedValue{Numeric: &f, Display: trimmed, Type: ValueLessThan}
		}
	}
	if m := greaterThanRe.FindStringSubmatch(cleaned); m != nil {
		if f, ok := parseFloat(m[1]); ok {
			return ParsedValue{Numeric: &f, Display: trimmed, Type: ValueGreaterThan}
		}
	}
	if plainNumberRe.MatchString(cleaned) {
		if f, ok := parseFloat(cleaned); ok {
			return ParsedValue{Numeric: &f, Display: trimmed, Type: ValueNumeric}
		}
	}

	return ParsedValue{Display: trimmed, Type: ValueText}
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numericInput(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case *float64:
		if v == nil {
			return 0, false
		}
		return *v, true
	}
	return 0, false
}
