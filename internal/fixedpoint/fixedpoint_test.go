package fixedpoint_test

import (
	"math"
	"testing"

	"github.com/hicpool/pool-engine/internal/fixedpoint"
)

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c int64
		want    int64
	}{
		{"exact", 10, 20, 5, 40},
		{"truncates", 7, 1, 2, 3},
		{"yield payout", 25000, 5_000_000, fixedpoint.Ppb, 125},
		{"negative floors down", -7, 1, 2, -4},
		{"negative exact", -8, 1, 2, -4},
		{"large intermediate", math.MaxInt64, 1000, 1000, math.MaxInt64},
		{"zero", 0, 123, 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fixedpoint.MulDiv(tt.a, tt.b, tt.c); got != tt.want {
				t.Errorf("MulDiv(%d, %d, %d) = %d, want %d", tt.a, tt.b, tt.c, got, tt.want)
			}
		})
	}
}

func TestDivByZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero divisor")
		}
	}()
	fixedpoint.Div(1, 0)
}

func TestSubFloor(t *testing.T) {
	if got := fixedpoint.SubFloor(5, 7); got != 0 {
		t.Errorf("SubFloor(5, 7) = %d, want 0", got)
	}
	if got := fixedpoint.SubFloor(7, 5); got != 2 {
		t.Errorf("SubFloor(7, 5) = %d, want 2", got)
	}
}
