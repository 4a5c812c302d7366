package game

import (
	"fmt"
	"sort"

	"rippletrade/internal/sim"
)

// Replay plays sc from seed and applies each order once Order.Day days have
// been played. Orders must be sorted by day and placed before the last day.
func Replay(sc *sim.Scenario, seed uint64, orders []Order) (Result, error) {
	d, err := sim.NewDirector(sc, seed)
	if err != nil {
		return Result{}, err
	}
	if !sort.SliceIsSorted(orders, func(i, j int) bool { return orders[i].Day < orders[j].Day }) {
		return Result{}, fmt.Errorf("%w: orders are not in day order", ErrInvalidOrder)
	}
	pf := NewPortfolio()
	digest := sim.NewDigest()
	next := 0
	for {
		day := d.Day()
		prices := d.Prices()
		for next < len(orders) && orders[next].Day == day {
			o := orders[next]
			if d.Status() == sim.StatusCompleted {
				return Result{}, fmt.Errorf("%w: order %d placed after the last day", ErrInvalidOrder, next)
			}
			if _, ok := sc.Asset(o.Symbol); !ok {
				return Result{}, fmt.Errorf("%w: %s", ErrUnknownAsset, o.Symbol)
			}
			if _, err := pf.Apply(o, PriceOf(prices[o.Symbol])); err != nil {
				return Result{}, fmt.Errorf("order %d: %w", next, err)
			}
			next++
		}
		if d.Status() == sim.StatusCompleted {
			break
		}
		res, err := d.AdvanceDay()
		if err != nil {
			return Result{}, err
		}
		digest.Add(res)
		pf.Mark(res.Prices)
	}
	if next < len(orders) {
		return Result{}, fmt.Errorf("%w: order %d placed on day %d of %d", ErrInvalidOrder, next, orders[next].Day, sc.DayCount())
	}
	return Result{
		ScenarioID: sc.ID(),
		Seed:       seed,
		Days:       sc.DayCount(),
		Orders:     len(orders),
		NetWorth:   pf.NetWorth(d.Prices()),
		Digest:     digest.Sum(),
	}, nil
}

// Verify replays a submission and accepts it only if the claimed digest and
// net worth both match.
func Verify(sc *sim.Scenario, sub Submission) (Result, error) {
	res, err := Replay(sc, sub.Seed, sub.Orders)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if res.Digest != sub.Digest {
		return res, fmt.Errorf("%w: market digest differs", ErrVerificationFailed)
	}
	if !res.NetWorth.Equal(sub.NetWorth) {
		return res, fmt.Errorf("%w: net worth %s, claimed %s", ErrVerificationFailed, res.NetWorth.StringFixed(MoneyPlaces), sub.NetWorth.StringFixed(MoneyPlaces))
	}
	return res, nil
}
