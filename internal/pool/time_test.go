package pool

import (
	"testing"

	"github.com/hicpool/pool-engine/internal/config"
)

func TestPoolDayBoundaries(t *testing.T) {
	p := config.DefaultParams()

	tests := []struct {
		name   string
		winter bool
		ts     int64
		want   int64
	}{
		{"winter midday", true, 1_700_000_000, 19676},
		{"winter day start", true, 19677*86400 - 43200, 19677},
		{"winter just before start", true, 19677*86400 - 43200 - 1, 19676},
		{"summer day start", false, 19677*86400 - 43200 - 3600, 19677},
		{"before epoch", true, -86400 - 43200 - 1, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := poolDayAt(&p, tt.winter, tt.ts); got != tt.want {
				t.Errorf("poolDayAt(%d) = %d, want %d", tt.ts, got, tt.want)
			}
		})
	}

	for _, winter := range []bool{true, false} {
		for day := int64(19000); day < 19010; day++ {
			start := poolDayStart(&p, winter, day)
			if got := poolDayAt(&p, winter, start); got != day {
				t.Errorf("winter=%v: day %d starts at %d which maps to day %d", winter, day, start, got)
			}
			if got := poolDayAt(&p, winter, start-1); got != day-1 {
				t.Errorf("winter=%v: second before day %d maps to %d", winter, day, got)
			}
		}
	}
}

func TestPayoutForecast(t *testing.T) {
	p := config.DefaultParams()
	st := NewState(p, "trust")
	st.CurrentPoolDay = 100
	st.BondMaturityPayoutsCu[101] = 900
	st.BondMaturityPayoutsCu[102] = 900
	st.BondMaturityPayoutsCu[150] = 9_000
	st.WcBalBaCu = 300

	tr := &tx{st: st, p: &p}
	f := tr.payoutForecast(100)

	if f.next3Days != 1_800 {
		t.Errorf("next3Days = %d, want 1800", f.next3Days)
	}
	if want := int64(10_800 / 90); f.average != want {
		t.Errorf("average = %d, want %d", f.average, want)
	}
	// k=1: (900-300)/1=600, k=2: (1800-300)/2=750, k=50: (10800-300)/50=210.
	if f.maxSlope != 750 {
		t.Errorf("maxSlope = %d, want 750", f.maxSlope)
	}
}
