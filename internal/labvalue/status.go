package labvalue

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Status is the clinical classification of a value against its reference range.
type Status string

const (
	StatusLow     Status = "Low"
	StatusNormal  Status = "Normal"
	StatusHigh    Status = "High"
	StatusUnknown Status = "Unknown"
)

var validStatuses = map[Status]bool{
	StatusLow: true, StatusNormal: true, StatusHigh: true, StatusUnknown: true,
}

// ParseStatus validates an explicitly supplied status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return st, nil
}

var statusStripper = strings.NewReplacer("<", "", ">", "", "≤", "", "≥", "", "*", "", ",", "", " ", "")

// Classify compares value against the optional bounds. value may be nil, a
// string (comparison markers, instrument flags and separators are stripped),
// a ParsedValue, or any Go numeric type.
func Classify(value any, refMin, refMax *float64) Status {
	v, ok := classifiable(value)
	if !ok {
		return StatusUnknown
	}
	if refMin == nil && refMax == nil {
		return StatusUnknown
	}
	if refMin != nil && v < *refMin {
		return StatusLow
	}
	if refMax != nil && v > *refMax {
		return StatusHigh
	}
	return StatusNormal
}

// ClassifyParsed classifies an already parsed value against a parsed range.
func ClassifyParsed(v ParsedValue, r ReferenceRange) Status {
	if v.Numeric == nil {
		return StatusUnknown
	}
	return Classify(*v.Numeric, r.Min, r.Max)
}

func classifiable(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case string:
		s := statusStripper.Replace(strings.TrimSpace(v))
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case *string:
		if v == nil {
			return 0, false
		}
		return classifiable(*v)
	case ParsedValue:
		if v.Numeric == nil {
			return 0, false
		}
		f = *v.Numeric
	default:
		n, ok := numericInput(value)
		if !ok {
			return 0, false
		}
		f = n
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
