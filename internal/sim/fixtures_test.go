package sim

import (
	"fmt"
	"testing"
)

func zero() *float64 {
	v := 0.0
	return &v
}

func days(n int) []DaySpec {
	out := make([]DaySpec, n)
	for i := range out {
		out[i] = DaySpec{Index: i}
	}
	return out
}

func oreDefinition() Definition {
	d := days(5)
	d[0].DriftOverride = zero()
	d[0].Forced = []MarketEvent{{
		ID:        "ore-strike",
		Category:  CategorySupply,
		Magnitude: 20,
		Target:    AssetTarget("ORE"),
		Duration:  3,
	}}
	return Definition{
		ID:     "ore",
		Title:  "Ore",
		Assets: []Asset{{Symbol: "ORE", Name: "Ore Corp", StartPrice: 100, Volatility: 0.02, Floor: 1}},
		Days:   d,
		RippleRules: []RippleRule{{
			ID:          "ore-followup",
			Source:      RippleSource{Category: CategorySupply},
			MinDelay:    2,
			MaxDelay:    2,
			Probability: 1,
			Scaling:     0.5,
			Child: MarketEvent{
				ID:       "ore-aftershock",
				Category: CategorySupply,
				Target:   AssetTarget("ORE"),
				Duration: 2,
			},
		}},
	}
}

func marketDefinition(n int) Definition {
	pool := []MarketEvent{
		{ID: "rate-hike", Category: CategoryMacro, Magnitude: -3, Target: MarketWide(), Duration: 3},
		{ID: "rate-cut", Category: CategoryMacro, Magnitude: 2.5, Target: MarketWide(), Duration: 3},
		{ID: "mine-flood", Category: CategoryDisaster, Magnitude: -12, Target: SectorTarget("metals"), Duration: 4},
		{ID: "beat", Category: CategoryEarnings, Magnitude: 6, Target: Target{Scope: ScopeAnyAsset}, Duration: 2},
		{ID: "miss", Category: CategoryEarnings, Magnitude: -7, Target: Target{Scope: ScopeAnyAsset}, Duration: 2},
		{ID: "probe", Category: CategoryRegulatory, Magnitude: -5, Target: AssetTarget("TEK"), Duration: 3},
		{ID: "hype", Category: CategorySentiment, Magnitude: 4, Target: SectorTarget("tech"), Duration: 2},
		{ID: "glut", Category: CategorySupply, Magnitude: -4, Target: AssetTarget("ORE"), Duration: 2, Weight: 2},
	}
	return Definition{
		ID:    "market",
		Title: "Market",
		Assets: []Asset{
			{Symbol: "ORE", Name: "Ore Corp", Sector: "metals", StartPrice: 100, Volatility: 0.03, Floor: 1},
			{Symbol: "GLD", Name: "Gold Trust", Sector: "metals", StartPrice: 250, Volatility: 0.01, Floor: 5},
			{Symbol: "TEK", Name: "Tek Systems", Sector: "tech", StartPrice: 40, Volatility: 0.05, Floor: 0.5},
		},
		Days:      days(n),
		EventPool: pool,
		RippleRules: []RippleRule{
			{
				ID:            "shortage",
				Source:        RippleSource{Category: CategoryDisaster},
				MinDelay:      1,
				MaxDelay:      3,
				Probability:   0.8,
				Scaling:       -0.5,
				Child:         MarketEvent{ID: "shortage", Category: CategorySupply, Duration: 3},
				InheritTarget: true,
			},
			{
				ID:          "fallout",
				Source:      RippleSource{EventID: "rate-*"},
				MinDelay:    2,
				MaxDelay:    4,
				Probability: 0.5,
				Scaling:     0.6,
				Child:       MarketEvent{ID: "fallout", Category: CategorySentiment, Target: SectorTarget("tech"), Duration: 2},
			},
		},
	}
}

func mustScenario(t *testing.T, def Definition) *Scenario {
	t.Helper()
	sc, err := NewScenario(def)
	if err != nil {
		t.Fatalf("build scenario %s: %v", def.ID, err)
	}
	return sc
}

func mustPlay(t *testing.T, sc *Scenario, seed uint64) []DayResult {
	t.Helper()
	results, err := Play(sc, seed)
	if err != nil {
		t.Fatalf("play %s seed=%d: %v", sc.ID(), seed, err)
	}
	if len(results) != sc.DayCount() {
		t.Fatalf("got %d results want %d", len(results), sc.DayCount())
	}
	return results
}

func eventIDs(events []ActiveEvent) string {
	out := ""
	for _, ae := range events {
		out += fmt.Sprintf("%s@%d ", ae.Event.ID, ae.StartDay)
	}
	return out
}
