package sim

import "testing"

func supplyRule(prob float64) RippleRule {
	return RippleRule{
		ID:          "r",
		Source:      RippleSource{Category: CategorySupply},
		MinDelay:    1,
		MaxDelay:    3,
		Probability: prob,
		Scaling:     0.5,
		Child:       MarketEvent{ID: "child", Category: CategorySentiment, Magnitude: -1, Target: MarketWide(), Duration: 2},
	}
}

func origin(id string, mag float64) ActiveEvent {
	return ActiveEvent{Event: MarketEvent{ID: id, Category: CategorySupply, Magnitude: mag, Target: AssetTarget("ORE"), Duration: 1}}
}

func TestScheduleDropsPastEnd(t *testing.T) {
	var q rippleQueue
	rng := NewRNG(1)
	rules := []RippleRule{supplyRule(1)}
	q.schedule(origin("a", 8), 9, rules, 10, 4, &rng)
	if q.Len() != 0 || q.dropped != 1 {
		t.Fatalf("len=%d dropped=%d want 0,1", q.Len(), q.dropped)
	}
}

func TestScheduleRespectsDepth(t *testing.T) {
	var q rippleQueue
	rng := NewRNG(1)
	deep := origin("a", 8)
	deep.Depth = 2
	if n := q.schedule(deep, 0, []RippleRule{supplyRule(1)}, 50, 2, &rng); n != 0 {
		t.Fatalf("scheduled %d ripples past max depth", n)
	}
}

func TestResolveDueOrderAndMaterialize(t *testing.T) {
	var q rippleQueue
	rng := NewRNG(4)
	rules := []RippleRule{supplyRule(1)}
	byID := map[string]RippleRule{"r": rules[0]}
	for i, id := range []string{"a", "b", "c", "d"} {
		q.schedule(origin(id, float64(10*(i+1))), 0, rules, 50, 4, &rng)
	}
	for _, p := range q.pending() {
		if p.FireDay <= p.OriginDay {
			t.Fatalf("fire day %d not after origin day %d", p.FireDay, p.OriginDay)
		}
	}

	total := 0
	for day := 1; day <= 3; day++ {
		spawned, popped := q.resolveDue(day, byID, &rng)
		if len(spawned) != popped {
			t.Fatalf("day %d: probability 1 spawned %d of %d", day, len(spawned), popped)
		}
		for _, ae := range spawned {
			if ae.StartDay != day || !ae.Ripple || ae.Depth != 1 {
				t.Fatalf("bad spawn %+v", ae)
			}
			if want := -0.5 * originMag(ae.OriginID); ae.Event.Magnitude != want {
				t.Fatalf("%s magnitude %f want %f", ae.Event.ID, ae.Event.Magnitude, want)
			}
		}
		total += len(spawned)
	}
	if total != 4 || q.Len() != 0 {
		t.Fatalf("spawned %d, %d left", total, q.Len())
	}
}

func originMag(id string) float64 {
	return map[string]float64{"a": 10, "b": 20, "c": 30, "d": 40}[id]
}

func TestResolveDueMissIsDiscarded(t *testing.T) {
	var q rippleQueue
	rng := NewRNG(2)
	rule := supplyRule(0)
	q.schedule(origin("a", 5), 0, []RippleRule{rule}, 50, 4, &rng)
	fire := q.pending()[0].FireDay
	spawned, popped := q.resolveDue(fire, map[string]RippleRule{"r": rule}, &rng)
	if len(spawned) != 0 || popped != 1 {
		t.Fatalf("spawned=%d popped=%d want 0,1", len(spawned), popped)
	}
	if q.Len() != 0 {
		t.Fatalf("missed ripple was retried")
	}
	if again, popped := q.resolveDue(fire, map[string]RippleRule{"r": rule}, &rng); len(again) != 0 || popped != 0 {
		t.Fatalf("missed ripple resolved twice")
	}
}

func TestMaterializeInheritsTarget(t *testing.T) {
	rule := supplyRule(1)
	rule.InheritTarget = true
	child := materialize(rule, PendingRipple{RuleID: "r", OriginID: "a", FireDay: 3, OriginMagnitude: 8, OriginTarget: AssetTarget("ORE")})
	if child.Target != AssetTarget("ORE") {
		t.Fatalf("target = %+v", child.Target)
	}
	if child.ID != "r@3:a" {
		t.Fatalf("id = %q", child.ID)
	}
}
