package labvalue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		min, max *float64
		want     Status
	}{
		{"normal", 1.2, f64(0.5), f64(1.8), StatusNormal},
		{"high", 2.0, f64(0.5), f64(1.8), StatusHigh},
		{"low", 0.1, f64(0.5), f64(1.8), StatusLow},
		{"nil value", nil, f64(0.5), f64(1.8), StatusUnknown},
		{"no bounds", 5, nil, nil, StatusUnknown},
		{"on lower bound", 0.5, f64(0.5), f64(1.8), StatusNormal},
		{"on upper bound", 1.8, f64(0.5), f64(1.8), StatusNormal},
		{"upper only high", 15.0, nil, f64(14), StatusHigh},
		{"upper only normal", 3.0, nil, f64(14), StatusNormal},
		{"lower only low", 59.0, f64(60), nil, StatusLow},
		{"string with comma", "1,390", f64(100), f64(1000), StatusHigh},
		{"string less than", "<0.2", f64(0.5), f64(1.8), StatusLow},
		{"string instrument flag", "*14", f64(1), f64(10), StatusHigh},
		{"empty string", "", f64(1), f64(2), StatusUnknown},
		{"text", "Negative", f64(1), f64(2), StatusUnknown},
		{"nan", math.NaN(), f64(1), f64(2), StatusUnknown},
		{"inf", math.Inf(1), f64(1), f64(2), StatusUnknown},
		{"parsed value", ParseValue(">1000"), f64(1), f64(500), StatusHigh},
		{"parsed text value", ParseValue("trace"), f64(1), f64(500), StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.value, tt.min, tt.max))
		})
	}
}

func TestClassifyParsed(t *testing.T) {
	r := ParseReferenceRange("5.65-8.87")
	require.Equal(t, StatusNormal, ClassifyParsed(ParseValue("6.1"), r))
	require.Equal(t, StatusHigh, ClassifyParsed(ParseValue("9"), r))
	require.Equal(t, StatusUnknown, ClassifyParsed(ParseValue("hemolyzed"), r))
	require.Equal(t, StatusUnknown, ClassifyParsed(ParseValue("6.1"), ParseReferenceRange("음성")))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" High ")
	require.NoError(t, err)
	require.Equal(t, StatusHigh, st)

	_, err = ParseStatus("high")
	require.Error(t, err)
}
