package sim

import (
	"container/heap"
	"fmt"
	"sort"
)

// PendingRipple is a scheduled follow-on effect. Its child event is
// materialized at most once, when the ripple is popped on FireDay.
type PendingRipple struct {
	RuleID          string  `json:"rule_id"`
	OriginID        string  `json:"origin_id"`
	OriginDay       int     `json:"origin_day"`
	OriginMagnitude float64 `json:"origin_magnitude"`
	OriginTarget    Target  `json:"origin_target"`
	OriginDepth     int     `json:"origin_depth"`
	FireDay         int     `json:"fire_day"`
	Seq             uint64  `json:"seq"`
}

type rippleHeap []PendingRipple

func (h rippleHeap) Len() int { return len(h) }
func (h rippleHeap) Less(i, j int) bool {
	if h[i].FireDay != h[j].FireDay {
		return h[i].FireDay < h[j].FireDay
	}
	return h[i].Seq < h[j].Seq
}
func (h rippleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rippleHeap) Push(x any)   { *h = append(*h, x.(PendingRipple)) }
func (h *rippleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// rippleQueue is a min-heap of pending ripples keyed by fire day. Ties pop
// in scheduling order.
type rippleQueue struct {
	items   rippleHeap
	nextSeq uint64
	dropped int
}

func (q *rippleQueue) clone() rippleQueue {
	return rippleQueue{
		items:   append(rippleHeap(nil), q.items...),
		nextSeq: q.nextSeq,
		dropped: q.dropped,
	}
}

func (q *rippleQueue) Len() int { return len(q.items) }

func (q *rippleQueue) pending() []PendingRipple {
	out := append([]PendingRipple(nil), q.items...)
	sortRipples(out)
	return out
}

// schedule enqueues one pending ripple per rule matching ev. Ripples that
// would fire on or after dayCount are dropped since the run ends first.
func (q *rippleQueue) schedule(ev ActiveEvent, day int, rules []RippleRule, dayCount, maxDepth int, rng *RNG) int {
	if ev.Depth >= maxDepth {
		return 0
	}
	scheduled := 0
	for _, rule := range rules {
		if !rule.Source.Matches(ev.Event) {
			continue
		}
		delay := rng.Between(rule.MinDelay, rule.MaxDelay)
		if delay < 1 {
			delay = 1
		}
		fireDay := day + delay
		if fireDay >= dayCount {
			q.dropped++
			continue
		}
		q.nextSeq++
		heap.Push(&q.items, PendingRipple{
			RuleID:          rule.ID,
			OriginID:        ev.Event.ID,
			OriginDay:       day,
			OriginMagnitude: ev.Event.Magnitude,
			OriginTarget:    ev.Event.Target,
			OriginDepth:     ev.Depth,
			FireDay:         fireDay,
			Seq:             q.nextSeq,
		})
		scheduled++
	}
	return scheduled
}

// resolveDue pops every ripple due on day and rolls its spawn probability.
// It returns the spawned events in scheduling order and how many ripples
// were popped, misses included. A popped ripple never returns to the queue.
func (q *rippleQueue) resolveDue(day int, rules map[string]RippleRule, rng *RNG) ([]ActiveEvent, int) {
	var spawned []ActiveEvent
	popped := 0
	for q.items.Len() > 0 && q.items[0].FireDay <= day {
		p := heap.Pop(&q.items).(PendingRipple)
		popped++
		rule, ok := rules[p.RuleID]
		if !ok {
			continue
		}
		if rng.Float64() >= rule.Probability {
			continue
		}
		spawned = append(spawned, ActiveEvent{
			Event:    materialize(rule, p),
			StartDay: day,
			OriginID: p.OriginID,
			Depth:    p.OriginDepth + 1,
			Ripple:   true,
		})
	}
	return spawned, popped
}

// materialize builds the child event. The child template's magnitude is a
// signed multiplier on the origin's magnitude (zero reads as 1).
func materialize(rule RippleRule, p PendingRipple) MarketEvent {
	child := rule.Child
	child.ID = fmt.Sprintf("%s@%d:%s", rule.ID, p.FireDay, p.OriginID)
	relative := rule.Child.Magnitude
	if relative == 0 {
		relative = 1
	}
	child.Magnitude = relative * rule.Scaling * p.OriginMagnitude
	if rule.InheritTarget {
		child.Target = p.OriginTarget
	}
	return child
}

func sortRipples(items []PendingRipple) {
	sort.Slice(items, rippleHeap(items).Less)
}
