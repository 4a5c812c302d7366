package sim

import "math"

// DecayFactor is 1 on an event's first active day and falls linearly to 0
// over duration days.
func DecayFactor(daysSinceStart, duration int) float64 {
	if duration < 1 || daysSinceStart < 0 || daysSinceStart >= duration {
		return 0
	}
	return 1 - float64(daysSinceStart)/float64(duration)
}

// DriftNoise maps a uniform draw u in [0,1) to a symmetric drift scaled by
// the asset's volatility.
func DriftNoise(u, volatility float64) float64 {
	return (u + u - 1) * volatility
}

// NextPrice moves an asset one day forward from previousPrice. Events that
// do not apply to the asset, or whose decay has run out, contribute nothing.
// The result is clamped to [floor, ceiling].
func NextPrice(asset Asset, ceiling, previousPrice, driftNoise float64, day int, active []ActiveEvent) float64 {
	next := previousPrice * (1 + driftNoise)
	for _, ae := range active {
		if !ae.Event.Target.Applies(asset) {
			continue
		}
		decay := DecayFactor(day-ae.StartDay, ae.Event.Duration)
		if decay == 0 {
			continue
		}
		next += previousPrice * ae.Event.Magnitude / 100 * decay
	}
	return clampPrice(next, asset.Floor, ceiling)
}

func clampPrice(v, floor, ceiling float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, -1) || v < floor {
		return floor
	}
	if ceiling > floor && (math.IsInf(v, 1) || v > ceiling) {
		return ceiling
	}
	if math.IsInf(v, 1) {
		return floor
	}
	return v
}
