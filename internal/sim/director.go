package sim

import (
	"fmt"
	"log/slog"
)

type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// DayResult is the read-only outcome of one AdvanceDay call.
type DayResult struct {
	Day      int                `json:"day"`
	Label    string             `json:"label,omitempty"`
	Prices   map[string]float64 `json:"prices"`
	News     []NewsEntry        `json:"news"`
	Active   []ActiveEvent      `json:"active"`
	Terminal bool               `json:"terminal"`
}

// SimulationState is a snapshot taken after Day steps. Pending ripples are
// listed in firing order; RecentDraws[0] is the most recent day.
type SimulationState struct {
	Day         int                `json:"day"`
	Prices      map[string]float64 `json:"prices"`
	Active      []ActiveEvent      `json:"active"`
	Pending     []PendingRipple    `json:"pending"`
	RecentDraws [][]Category       `json:"recent_draws"`
	News        []NewsEntry        `json:"news"`
	Dropped     int                `json:"dropped_ripples"`
}

type state struct {
	day     int
	prices  map[string]float64
	active  []ActiveEvent
	ripples rippleQueue
	draws   [][]Category
	news    []NewsEntry

	drift  RNG
	picker RNG
	ripple RNG
}

func (s *state) clone() state {
	out := *s
	out.prices = make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out.prices[k] = v
	}
	out.active = append([]ActiveEvent(nil), s.active...)
	out.ripples = s.ripples.clone()
	out.draws = make([][]Category, len(s.draws))
	for i, d := range s.draws {
		out.draws[i] = append([]Category(nil), d...)
	}
	out.news = append([]NewsEntry(nil), s.news...)
	return out
}

// Director advances a scenario one day at a time. It is not safe for
// concurrent use; callers serialize AdvanceDay.
type Director struct {
	scenario  *Scenario
	seed      uint64
	settings  Settings
	assets    []Asset
	pool      []MarketEvent
	rules     []RippleRule
	rulesByID map[string]RippleRule
	log       *slog.Logger

	status Status
	state  state
}

type Option func(*Director)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Director) {
		if logger != nil {
			d.log = logger
		}
	}
}

func NewDirector(sc *Scenario, seed uint64, opts ...Option) (*Director, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: scenario is nil", ErrInvalidScenario)
	}
	root := NewRNG(seed)
	d := &Director{
		scenario:  sc,
		seed:      seed,
		settings:  sc.Settings(),
		assets:    sc.Assets(),
		pool:      sc.EventPool(),
		rules:     sc.RippleRules(),
		rulesByID: make(map[string]RippleRule),
		log:       slog.Default(),
		status:    StatusCreated,
	}
	for _, r := range d.rules {
		d.rulesByID[r.ID] = r
	}
	d.state = state{
		prices: make(map[string]float64, len(d.assets)),
		drift:  root.Derive("drift"),
		picker: root.Derive("select"),
		ripple: root.Derive("ripple"),
	}
	for _, a := range d.assets {
		d.state.prices[a.Symbol] = a.StartPrice
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Director) Scenario() *Scenario { return d.scenario }
func (d *Director) Seed() uint64        { return d.seed }
func (d *Director) Status() Status      { return d.status }

// Day is the number of days taken so far, which is also the index of the
// next day to be played.
func (d *Director) Day() int { return d.state.day }

func (d *Director) Prices() map[string]float64 {
	out := make(map[string]float64, len(d.state.prices))
	for k, v := range d.state.prices {
		out[k] = v
	}
	return out
}

func (d *Director) Snapshot() SimulationState {
	s := d.state.clone()
	return SimulationState{
		Day:         s.day,
		Prices:      s.prices,
		Active:      s.active,
		Pending:     s.ripples.pending(),
		RecentDraws: s.draws,
		News:        s.news,
		Dropped:     s.ripples.dropped,
	}
}

// AdvanceDay plays the next day. It either commits the whole day or returns
// an error and leaves the Director untouched.
func (d *Director) AdvanceDay() (DayResult, error) {
	if d.status == StatusCompleted {
		return DayResult{}, ErrAlreadyCompleted
	}
	day := d.state.day
	plan, err := d.scenario.DayAt(day)
	if err != nil {
		return DayResult{}, err
	}

	next := d.state.clone()
	next.active = stillActive(next.active, day)

	spawned, popped := next.ripples.resolveDue(day, d.rulesByID, &next.ripple)

	limit := d.settings.MaxActiveEventsPerDay
	today := make([]ActiveEvent, 0, limit)
	chosen := make(map[string]struct{}, limit)
	for _, ev := range plan.Forced {
		today = append(today, ActiveEvent{Event: ev, StartDay: day, Forced: true})
		chosen[ev.ID] = struct{}{}
	}
	for _, ae := range spawned {
		today = append(today, ae)
		chosen[ae.Event.ID] = struct{}{}
	}
	drawn := d.drawPrimary(&next, day, chosen, limit-len(today))
	today = append(today, drawn...)

	cats := make([]Category, 0, len(drawn))
	for _, ae := range drawn {
		cats = append(cats, ae.Event.Category)
	}
	next.draws = append([][]Category{cats}, next.draws...)
	if keep := d.settings.CooldownWindow; len(next.draws) > keep {
		next.draws = next.draws[:keep]
	}

	dayCount := d.scenario.DayCount()
	for _, ae := range today {
		next.ripples.schedule(ae, day, d.rules, dayCount, d.settings.MaxRippleDepth, &next.ripple)
	}

	next.active = append(next.active, today...)
	for _, a := range d.assets {
		noise := DriftNoise(next.drift.Float64(), a.Volatility)
		if plan.DriftOverride != nil {
			noise = *plan.DriftOverride
		}
		prev := next.prices[a.Symbol]
		next.prices[a.Symbol] = NextPrice(a, d.scenario.ceiling(a), prev, noise, day, next.active)
	}

	news := buildNews(day, today)
	next.news = prependNews(next.news, news, d.settings.NewsHistoryCap)
	next.day = day + 1

	result := DayResult{
		Day:      day,
		Label:    plan.Label,
		Prices:   make(map[string]float64, len(next.prices)),
		News:     news,
		Active:   append([]ActiveEvent(nil), next.active...),
		Terminal: next.day >= dayCount,
	}
	for k, v := range next.prices {
		result.Prices[k] = v
	}

	d.state = next
	d.status = StatusRunning
	if result.Terminal {
		d.status = StatusCompleted
	}
	d.log.Debug("day advanced",
		"scenario", d.scenario.ID(),
		"day", day,
		"events", len(today),
		"ripples_due", popped,
		"ripples", len(spawned),
		"pending", next.ripples.Len(),
		"terminal", result.Terminal,
	)
	return result, nil
}

// drawPrimary fills up to slots with weighted draws from the event pool.
// A category is excluded once its draws over the previous CooldownWindow
// days plus today reach MaxCategoryDraws.
func (d *Director) drawPrimary(next *state, day int, chosen map[string]struct{}, slots int) []ActiveEvent {
	if slots <= 0 || len(d.pool) == 0 {
		return nil
	}
	counts := make(map[Category]int)
	for _, cats := range next.draws {
		for _, c := range cats {
			counts[c]++
		}
	}
	active := make(map[string]struct{}, len(next.active))
	for _, ae := range next.active {
		active[ae.Event.ID] = struct{}{}
	}

	var out []ActiveEvent
	weights := make([]float64, len(d.pool))
	for slots > 0 {
		total := 0.0
		for i, ev := range d.pool {
			weights[i] = 0
			if _, ok := chosen[ev.ID]; ok {
				continue
			}
			if _, ok := active[ev.ID]; ok {
				continue
			}
			if counts[ev.Category] >= d.settings.MaxCategoryDraws {
				continue
			}
			w := ev.Weight
			if w == 0 {
				w = 1
			}
			w *= d.settings.categoryWeight(ev.Category)
			if w <= 0 {
				continue
			}
			weights[i] = w
			total += w
		}
		if total <= 0 {
			break
		}
		pick := -1
		r := next.picker.Float64() * total
		for i, w := range weights {
			if w == 0 {
				continue
			}
			pick = i
			if r < w {
				break
			}
			r -= w
		}
		ev := d.pool[pick]
		if ev.Target.Scope == ScopeAnyAsset {
			ev.Target = AssetTarget(d.assets[next.picker.Intn(len(d.assets))].Symbol)
		}
		out = append(out, ActiveEvent{Event: ev, StartDay: day})
		chosen[ev.ID] = struct{}{}
		counts[ev.Category]++
		slots--
	}
	return out
}

func stillActive(events []ActiveEvent, day int) []ActiveEvent {
	out := events[:0]
	for _, ae := range events {
		if ae.Remaining(day) > 0 {
			out = append(out, ae)
		}
	}
	return out
}

// Play runs sc from day zero to completion.
func Play(sc *Scenario, seed uint64, opts ...Option) ([]DayResult, error) {
	d, err := NewDirector(sc, seed, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]DayResult, 0, sc.DayCount())
	for d.Status() != StatusCompleted {
		res, err := d.AdvanceDay()
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
