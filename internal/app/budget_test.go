package app

import (
	"math"
	"testing"
)

func TestErrorBudget(t *testing.T) {
	tests := []struct {
		name          string
		fails, clean  int
		reset         bool
		want          float64
		wantExhausted bool
	}{
		{"single failure", 1, 0, false, 1, false},
		{"reaches limit", 10, 0, false, 10, true},
		{"capped at limit", 200, 0, false, 10, true},
		{"one clean tick recovers from cap", 200, 1, false, 9.9, false},
		{"decays after cap", 200, 10, false, 9, false},
		{"never below zero", 1, 50, false, 0, false},
		{"reset clears", 200, 0, true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewErrorBudget(10, 0.1)
			for i := 0; i < tt.fails; i++ {
				b.Fail()
			}
			for i := 0; i < tt.clean; i++ {
				b.Ok()
			}
			if tt.reset {
				b.Reset()
			}

			if got := b.Value(); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
			if got := b.Exhausted(); got != tt.wantExhausted {
				t.Errorf("Exhausted() = %v, want %v", got, tt.wantExhausted)
			}
		})
	}
}
