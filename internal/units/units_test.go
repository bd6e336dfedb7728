package units

import (
	"strconv"
	"testing"
)

func TestToPhysical(t *testing.T) {
	cases := []struct {
		voltageRaw, currentRaw int16
		voltage, current       string
	}{
		{800, 50, "1.00000", "5.0"},
		{800, -50, "1.00000", "-5.0"},
		{0, 0, "0.00000", "0.0"},
		{1, 1, "0.00125", "0.1"},
		{-1, -1, "-0.00125", "-0.1"},
		{32767, 32767, "40.95875", "3276.7"},
		{-32768, -32768, "-40.96000", "-3276.8"},
	}

	for _, tc := range cases {
		v, c := ToPhysical(tc.voltageRaw, tc.currentRaw)
		if got := strconv.FormatFloat(float64(v), 'f', 5, 32); got != tc.voltage {
			t.Errorf("voltage(%d) = %s, want %s", tc.voltageRaw, got, tc.voltage)
		}
		if got := strconv.FormatFloat(float64(c), 'f', 1, 32); got != tc.current {
			t.Errorf("current(%d) = %s, want %s", tc.currentRaw, got, tc.current)
		}
	}
}
