package sim

import (
	"math"
	"testing"
)

func TestDecayFactor(t *testing.T) {
	tests := []struct {
		d, n int
		want float64
	}{
		{0, 3, 1},
		{1, 4, 0.75},
		{2, 4, 0.5},
		{3, 3, 0},
		{-1, 3, 0},
		{0, 0, 0},
	}
	for _, tc := range tests {
		if got := DecayFactor(tc.d, tc.n); got != tc.want {
			t.Fatalf("DecayFactor(%d,%d) = %f want %f", tc.d, tc.n, got, tc.want)
		}
	}
}

func TestNextPriceAppliesTargets(t *testing.T) {
	ore := Asset{Symbol: "ORE", Sector: "metals", StartPrice: 100, Floor: 1}
	active := []ActiveEvent{
		{Event: MarketEvent{ID: "a", Magnitude: 10, Target: MarketWide(), Duration: 2}, StartDay: 0},
		{Event: MarketEvent{ID: "b", Magnitude: -4, Target: SectorTarget("Metals"), Duration: 1}, StartDay: 1},
		{Event: MarketEvent{ID: "c", Magnitude: 50, Target: AssetTarget("TEK"), Duration: 5}, StartDay: 0},
		{Event: MarketEvent{ID: "d", Magnitude: 50, Target: AssetTarget("ORE"), Duration: 1}, StartDay: 0},
	}
	// day 1: a at half strength (+5), b full (-4), c other asset, d expired.
	got := NextPrice(ore, 100000, 100, 0.01, 1, active)
	if math.Abs(got-102) > 1e-9 {
		t.Fatalf("got %f want 102", got)
	}
}

func TestNextPriceClamps(t *testing.T) {
	a := Asset{Symbol: "X", StartPrice: 10, Floor: 2}
	crash := []ActiveEvent{{Event: MarketEvent{Magnitude: -500, Target: MarketWide(), Duration: 1}}}
	if got := NextPrice(a, 100, 10, 0, 0, crash); got != 2 {
		t.Fatalf("crash price %f want floor 2", got)
	}
	boom := []ActiveEvent{{Event: MarketEvent{Magnitude: 5000, Target: MarketWide(), Duration: 1}}}
	if got := NextPrice(a, 100, 10, 0, 0, boom); got != 100 {
		t.Fatalf("boom price %f want ceiling 100", got)
	}
	if got := NextPrice(a, 100, math.NaN(), 0, 0, nil); got != 2 {
		t.Fatalf("NaN collapsed to %f want floor", got)
	}
}

func TestDriftNoiseSymmetric(t *testing.T) {
	if DriftNoise(0, 0.1) != -0.1 || DriftNoise(0.5, 0.1) != 0 {
		t.Fatalf("drift noise not symmetric around 0.5")
	}
}
