package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"rippletrade/internal/sim"
)

// File is the on-disk JSON form of a scenario. Days are given as a count;
// Script entries attach labels, forced events and drift overrides to
// individual days.
type File struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Days        int           `json:"days"`
	Settings    *settingsFile `json:"settings,omitempty"`
	Assets      []sim.Asset   `json:"assets"`
	Script      []dayFile     `json:"script,omitempty"`
	Events      []eventFile   `json:"events,omitempty"`
	Ripples     []rippleFile  `json:"ripples,omitempty"`
}

type settingsFile struct {
	CooldownWindow        int                `json:"cooldown_window"`
	MaxCategoryDraws      int                `json:"max_category_draws"`
	MaxActiveEventsPerDay int                `json:"max_active_events_per_day"`
	NewsHistoryCap        int                `json:"news_history_cap"`
	MaxRippleDepth        int                `json:"max_ripple_depth"`
	CeilingMultiple       float64            `json:"ceiling_multiple"`
	CategoryWeights       map[string]float64 `json:"category_weights,omitempty"`
}

type dayFile struct {
	Day           int         `json:"day"`
	Label         string      `json:"label,omitempty"`
	DriftOverride *float64    `json:"drift_override,omitempty"`
	Forced        []eventFile `json:"forced,omitempty"`
}

type eventFile struct {
	ID        string  `json:"id"`
	Category  string  `json:"category"`
	Magnitude float64 `json:"magnitude"`
	Target    string  `json:"target"`
	Duration  int     `json:"duration"`
	Headline  string  `json:"headline,omitempty"`
	Weight    float64 `json:"weight,omitempty"`
}

type rippleFile struct {
	ID            string    `json:"id"`
	Category      string    `json:"category,omitempty"`
	Event         string    `json:"event,omitempty"`
	Delay         [2]int    `json:"delay"`
	Probability   float64   `json:"probability"`
	Scaling       float64   `json:"scaling"`
	InheritTarget bool      `json:"inherit_target,omitempty"`
	Child         eventFile `json:"child"`
}

// MaxDays bounds the length of a scenario file.
const MaxDays = 3650

// Parse decodes one JSON scenario and validates it. Every failure wraps
// sim.ErrInvalidScenario.
func Parse(raw []byte) (*sim.Scenario, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", sim.ErrInvalidScenario, err)
	}
	def, err := f.Definition()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sim.ErrInvalidScenario, f.ID, err)
	}
	return sim.NewScenario(def)
}

// Definition converts the file into the engine's input form.
func (f File) Definition() (sim.Definition, error) {
	if f.Days < 1 || f.Days > MaxDays {
		return sim.Definition{}, fmt.Errorf("days must be within 1..%d, got %d", MaxDays, f.Days)
	}
	def := sim.Definition{
		ID:          strings.TrimSpace(f.ID),
		Title:       f.Title,
		Description: f.Description,
		Assets:      f.Assets,
		Days:        make([]sim.DaySpec, f.Days),
	}
	for i := range def.Days {
		def.Days[i].Index = i
	}
	seen := map[int]bool{}
	for _, d := range f.Script {
		if d.Day < 0 || d.Day >= f.Days {
			return def, fmt.Errorf("script day %d outside 0..%d", d.Day, f.Days-1)
		}
		if seen[d.Day] {
			return def, fmt.Errorf("script day %d listed twice", d.Day)
		}
		seen[d.Day] = true
		ds := &def.Days[d.Day]
		ds.Label = d.Label
		ds.DriftOverride = d.DriftOverride
		for _, ev := range d.Forced {
			me, err := ev.event()
			if err != nil {
				return def, fmt.Errorf("day %d: %w", d.Day, err)
			}
			ds.Forced = append(ds.Forced, me)
		}
	}
	for _, ev := range f.Events {
		me, err := ev.event()
		if err != nil {
			return def, err
		}
		def.EventPool = append(def.EventPool, me)
	}
	for _, r := range f.Ripples {
		rule, err := r.rule()
		if err != nil {
			return def, err
		}
		def.RippleRules = append(def.RippleRules, rule)
	}
	if f.Settings != nil {
		s, err := f.Settings.settings()
		if err != nil {
			return def, err
		}
		def.Settings = s
	}
	return def, nil
}

func (e eventFile) event() (sim.MarketEvent, error) {
	cat, err := sim.ParseCategory(e.Category)
	if err != nil {
		return sim.MarketEvent{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return sim.MarketEvent{
		ID:        strings.TrimSpace(e.ID),
		Category:  cat,
		Magnitude: e.Magnitude,
		Target:    sim.ParseTarget(e.Target),
		Duration:  e.Duration,
		Headline:  e.Headline,
		Weight:    e.Weight,
	}, nil
}

func (r rippleFile) rule() (sim.RippleRule, error) {
	var src sim.RippleSource
	if strings.TrimSpace(r.Category) != "" {
		cat, err := sim.ParseCategory(r.Category)
		if err != nil {
			return sim.RippleRule{}, fmt.Errorf("ripple %s: %w", r.ID, err)
		}
		src.Category = cat
	}
	src.EventID = strings.TrimSpace(r.Event)
	child, err := r.Child.event()
	if err != nil {
		return sim.RippleRule{}, fmt.Errorf("ripple %s: %w", r.ID, err)
	}
	maxDelay := r.Delay[1]
	if maxDelay == 0 {
		maxDelay = r.Delay[0]
	}
	return sim.RippleRule{
		ID:            strings.TrimSpace(r.ID),
		Source:        src,
		MinDelay:      r.Delay[0],
		MaxDelay:      maxDelay,
		Probability:   r.Probability,
		Scaling:       r.Scaling,
		Child:         child,
		InheritTarget: r.InheritTarget,
	}, nil
}

func (s settingsFile) settings() (sim.Settings, error) {
	out := sim.Settings{
		CooldownWindow:        s.CooldownWindow,
		MaxCategoryDraws:      s.MaxCategoryDraws,
		MaxActiveEventsPerDay: s.MaxActiveEventsPerDay,
		NewsHistoryCap:        s.NewsHistoryCap,
		MaxRippleDepth:        s.MaxRippleDepth,
		CeilingMultiple:       s.CeilingMultiple,
	}
	if len(s.CategoryWeights) > 0 {
		out.CategoryWeights = make(map[sim.Category]float64, len(s.CategoryWeights))
		for name, w := range s.CategoryWeights {
			cat, err := sim.ParseCategory(name)
			if err != nil {
				return out, err
			}
			out.CategoryWeights[cat] = w
		}
	}
	return out, nil
}
