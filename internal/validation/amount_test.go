package validation

import (
	"math"
	"testing"
)

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		want   bool
	}{
		{"whole value", 500, true},
		{"single cent", 0.01, true},
		{"cent precision", 10.55, true},
		{"zero", 0, false},
		{"negative", -5, false},
		{"sub-cent precision", 0.001, false},
		{"nan", math.NaN(), false},
		{"positive infinity", math.Inf(1), false},
		{"negative infinity", math.Inf(-1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAmount(tt.amount); got != tt.want {
				t.Fatalf("IsValidAmount(%v) = %v, want %v", tt.amount, got, tt.want)
			}
		})
	}
}
