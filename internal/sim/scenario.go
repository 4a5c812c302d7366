package sim

import (
	"errors"
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"
)

var (
	ErrInvalidScenario  = errors.New("invalid scenario")
	ErrAlreadyCompleted = errors.New("run already completed")
	ErrOutOfRange       = errors.New("day index out of range")
)

var symbolRE = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,7}$`)

type Asset struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Sector     string  `json:"sector,omitempty"`
	StartPrice float64 `json:"start_price"`
	Volatility float64 `json:"volatility"`
	Floor      float64 `json:"floor"`
	// Ceiling of zero means StartPrice * Settings.CeilingMultiple.
	Ceiling float64 `json:"ceiling,omitempty"`
}

type DaySpec struct {
	Index         int           `json:"index"`
	Label         string        `json:"label,omitempty"`
	Forced        []MarketEvent `json:"forced,omitempty"`
	DriftOverride *float64      `json:"drift_override,omitempty"`
}

// RippleSource selects which events trigger a rule. A zero Category matches
// any category; an empty EventID matches any id. At least one must be set.
type RippleSource struct {
	Category Category `json:"category"`
	EventID  string   `json:"event_id,omitempty"`
}

func (s RippleSource) Matches(ev MarketEvent) bool {
	if s.Category != CategoryUnknown && s.Category != ev.Category {
		return false
	}
	if s.EventID != "" {
		ok, err := path.Match(s.EventID, ev.ID)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// RippleRule is a causality edge template: when a matching event is
// selected, a child event may follow MinDelay..MaxDelay days later.
type RippleRule struct {
	ID            string       `json:"id"`
	Source        RippleSource `json:"source"`
	MinDelay      int          `json:"min_delay"`
	MaxDelay      int          `json:"max_delay"`
	Probability   float64      `json:"probability"`
	Scaling       float64      `json:"scaling"`
	Child         MarketEvent  `json:"child"`
	InheritTarget bool         `json:"inherit_target,omitempty"`
}

type Settings struct {
	CooldownWindow        int                  `json:"cooldown_window"`
	MaxCategoryDraws      int                  `json:"max_category_draws"`
	MaxActiveEventsPerDay int                  `json:"max_active_events_per_day"`
	NewsHistoryCap        int                  `json:"news_history_cap"`
	MaxRippleDepth        int                  `json:"max_ripple_depth"`
	CeilingMultiple       float64              `json:"ceiling_multiple"`
	CategoryWeights       map[Category]float64 `json:"category_weights,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		CooldownWindow:        3,
		MaxCategoryDraws:      1,
		MaxActiveEventsPerDay: 3,
		NewsHistoryCap:        50,
		MaxRippleDepth:        4,
		CeilingMultiple:       1000,
	}
}

func (s Settings) categoryWeight(c Category) float64 {
	if w, ok := s.CategoryWeights[c]; ok {
		return w
	}
	return c.baseWeight()
}

// Definition is the mutable input from which a Scenario is built.
type Definition struct {
	ID          string
	Title       string
	Description string
	Assets      []Asset
	Days        []DaySpec
	EventPool   []MarketEvent
	RippleRules []RippleRule
	// Settings fields left at zero take their DefaultSettings value.
	Settings Settings
}

// Scenario is an immutable, validated script. It is safe to share between
// any number of Directors.
type Scenario struct {
	id          string
	title       string
	description string
	assets      []Asset
	days        []DaySpec
	pool        []MarketEvent
	rules       []RippleRule
	settings    Settings
	bySymbol    map[string]int
	sectors     map[string]struct{}
}

// NewScenario validates def and returns a deep copy. Errors wrap
// ErrInvalidScenario.
func NewScenario(def Definition) (*Scenario, error) {
	sc := &Scenario{
		id:          strings.TrimSpace(def.ID),
		title:       strings.TrimSpace(def.Title),
		description: strings.TrimSpace(def.Description),
		assets:      append([]Asset(nil), def.Assets...),
		days:        make([]DaySpec, len(def.Days)),
		pool:        append([]MarketEvent(nil), def.EventPool...),
		rules:       append([]RippleRule(nil), def.RippleRules...),
		settings:    withDefaults(def.Settings),
		bySymbol:    make(map[string]int, len(def.Assets)),
		sectors:     map[string]struct{}{},
	}
	for i, d := range def.Days {
		sc.days[i] = copyDay(d)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScenario, err.Error())
	}
	return sc, nil
}

func withDefaults(s Settings) Settings {
	def := DefaultSettings()
	if s.CooldownWindow <= 0 {
		s.CooldownWindow = def.CooldownWindow
	}
	if s.MaxCategoryDraws <= 0 {
		s.MaxCategoryDraws = def.MaxCategoryDraws
	}
	if s.MaxActiveEventsPerDay <= 0 {
		s.MaxActiveEventsPerDay = def.MaxActiveEventsPerDay
	}
	if s.NewsHistoryCap <= 0 {
		s.NewsHistoryCap = def.NewsHistoryCap
	}
	if s.MaxRippleDepth <= 0 {
		s.MaxRippleDepth = def.MaxRippleDepth
	}
	if s.CeilingMultiple <= 0 {
		s.CeilingMultiple = def.CeilingMultiple
	}
	weights := make(map[Category]float64, len(s.CategoryWeights))
	for k, v := range s.CategoryWeights {
		weights[k] = v
	}
	s.CategoryWeights = weights
	return s
}

func copyDay(d DaySpec) DaySpec {
	out := d
	out.Forced = append([]MarketEvent(nil), d.Forced...)
	if d.DriftOverride != nil {
		v := *d.DriftOverride
		out.DriftOverride = &v
	}
	return out
}

func (sc *Scenario) validate() error {
	if sc.id == "" {
		return errors.New("scenario id is required")
	}
	if len(sc.assets) == 0 {
		return errors.New("asset roster is empty")
	}
	if len(sc.days) == 0 {
		return errors.New("scenario has no days")
	}
	if !finite(sc.settings.CeilingMultiple) || sc.settings.CeilingMultiple < 1 {
		return errors.New("ceiling multiple must be >= 1")
	}
	for i, a := range sc.assets {
		if !symbolRE.MatchString(a.Symbol) {
			return fmt.Errorf("asset %d: symbol %q must be 1-8 uppercase letters or digits", i, a.Symbol)
		}
		if _, dup := sc.bySymbol[a.Symbol]; dup {
			return fmt.Errorf("asset %s: duplicate symbol", a.Symbol)
		}
		if !finite(a.Floor) || a.Floor <= 0 {
			return fmt.Errorf("asset %s: floor must be > 0", a.Symbol)
		}
		if !finite(a.StartPrice) || a.StartPrice < a.Floor {
			return fmt.Errorf("asset %s: start price must be >= floor", a.Symbol)
		}
		if !finite(a.Volatility) || a.Volatility < 0 {
			return fmt.Errorf("asset %s: volatility must be >= 0", a.Symbol)
		}
		if !finite(a.Ceiling) || (a.Ceiling != 0 && a.Ceiling <= a.Floor) {
			return fmt.Errorf("asset %s: ceiling must be 0 or above floor", a.Symbol)
		}
		if sc.ceiling(a) < a.StartPrice {
			return fmt.Errorf("asset %s: ceiling %g is below start price", a.Symbol, sc.ceiling(a))
		}
		sc.bySymbol[a.Symbol] = i
		if a.Sector != "" {
			sc.sectors[strings.ToLower(a.Sector)] = struct{}{}
		}
	}

	for i, d := range sc.days {
		if d.Index != i {
			return fmt.Errorf("day %d: index %d breaks zero-based contiguous ordering", i, d.Index)
		}
		if d.DriftOverride != nil && (!finite(*d.DriftOverride) || *d.DriftOverride <= -1) {
			return fmt.Errorf("day %d: drift override must be finite and > -1", i)
		}
		seen := map[string]struct{}{}
		for _, ev := range d.Forced {
			if err := sc.validateEvent(ev, false); err != nil {
				return fmt.Errorf("day %d: forced event: %w", i, err)
			}
			if _, dup := seen[ev.ID]; dup {
				return fmt.Errorf("day %d: forced event %s listed twice", i, ev.ID)
			}
			seen[ev.ID] = struct{}{}
		}
	}

	poolIDs := map[string]struct{}{}
	for _, ev := range sc.pool {
		if err := sc.validateEvent(ev, true); err != nil {
			return fmt.Errorf("event pool: %w", err)
		}
		if _, dup := poolIDs[ev.ID]; dup {
			return fmt.Errorf("event pool: duplicate id %s", ev.ID)
		}
		if !finite(ev.Weight) || ev.Weight < 0 {
			return fmt.Errorf("event pool: %s: weight must be >= 0", ev.ID)
		}
		poolIDs[ev.ID] = struct{}{}
	}

	ruleIDs := map[string]struct{}{}
	for _, r := range sc.rules {
		if strings.TrimSpace(r.ID) == "" {
			return errors.New("ripple rule id is required")
		}
		if _, dup := ruleIDs[r.ID]; dup {
			return fmt.Errorf("ripple rule %s: duplicate id", r.ID)
		}
		ruleIDs[r.ID] = struct{}{}
		if r.MinDelay < 1 {
			return fmt.Errorf("ripple rule %s: delay must be >= 1", r.ID)
		}
		if r.MaxDelay < r.MinDelay {
			return fmt.Errorf("ripple rule %s: max delay below min delay", r.ID)
		}
		if !finite(r.Probability) || r.Probability < 0 || r.Probability > 1 {
			return fmt.Errorf("ripple rule %s: probability must be within [0,1]", r.ID)
		}
		if !finite(r.Scaling) {
			return fmt.Errorf("ripple rule %s: scaling must be finite", r.ID)
		}
		if r.Source.Category == CategoryUnknown && r.Source.EventID == "" {
			return fmt.Errorf("ripple rule %s: source needs a category or event id pattern", r.ID)
		}
		if r.Source.Category != CategoryUnknown && !r.Source.Category.Valid() {
			return fmt.Errorf("ripple rule %s: invalid source category", r.ID)
		}
		if _, err := path.Match(r.Source.EventID, ""); err != nil {
			return fmt.Errorf("ripple rule %s: bad event id pattern: %v", r.ID, err)
		}
		if err := sc.validateEvent(r.Child, false); err != nil {
			return fmt.Errorf("ripple rule %s: child: %w", r.ID, err)
		}
	}
	return nil
}

func (sc *Scenario) validateEvent(ev MarketEvent, allowAny bool) error {
	if strings.TrimSpace(ev.ID) == "" {
		return errors.New("event id is required")
	}
	if !ev.Category.Valid() {
		return fmt.Errorf("%s: invalid category", ev.ID)
	}
	if !finite(ev.Magnitude) {
		return fmt.Errorf("%s: magnitude must be finite", ev.ID)
	}
	if ev.Duration < 1 {
		return fmt.Errorf("%s: duration must be >= 1", ev.ID)
	}
	switch ev.Target.Scope {
	case ScopeMarket:
	case ScopeAsset:
		if _, ok := sc.bySymbol[ev.Target.Value]; !ok {
			return fmt.Errorf("%s: target asset %q is not in the roster", ev.ID, ev.Target.Value)
		}
	case ScopeSector:
		if _, ok := sc.sectors[strings.ToLower(ev.Target.Value)]; !ok {
			return fmt.Errorf("%s: target sector %q has no assets", ev.ID, ev.Target.Value)
		}
	case ScopeAnyAsset:
		if !allowAny {
			return fmt.Errorf("%s: target \"any\" is only allowed in the event pool", ev.ID)
		}
	default:
		return fmt.Errorf("%s: unknown target scope", ev.ID)
	}
	return nil
}

func (sc *Scenario) ID() string          { return sc.id }
func (sc *Scenario) Title() string       { return sc.title }
func (sc *Scenario) Description() string { return sc.description }
func (sc *Scenario) DayCount() int       { return len(sc.days) }

func (sc *Scenario) Assets() []Asset {
	return append([]Asset(nil), sc.assets...)
}

func (sc *Scenario) Asset(symbol string) (Asset, bool) {
	i, ok := sc.bySymbol[symbol]
	if !ok {
		return Asset{}, false
	}
	return sc.assets[i], true
}

func (sc *Scenario) DayAt(index int) (DaySpec, error) {
	if index < 0 || index >= len(sc.days) {
		return DaySpec{}, fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, index, len(sc.days))
	}
	return copyDay(sc.days[index]), nil
}

func (sc *Scenario) EventPool() []MarketEvent {
	return append([]MarketEvent(nil), sc.pool...)
}

func (sc *Scenario) RippleRules() []RippleRule {
	return append([]RippleRule(nil), sc.rules...)
}

func (sc *Scenario) Settings() Settings {
	return withDefaults(sc.settings)
}

func (sc *Scenario) ceiling(a Asset) float64 {
	if a.Ceiling > 0 {
		return a.Ceiling
	}
	return a.StartPrice * sc.settings.CeilingMultiple
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
