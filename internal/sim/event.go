package sim

import (
	"fmt"
	"strings"
)

// Category tags a market event. Every switch over Category in this package
// is exhaustive; adding a category means adding a case to each.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryRegulatory
	CategorySupply
	CategoryEarnings
	CategoryMacro
	CategorySentiment
	CategoryDisaster
)

// Categories lists the valid categories in declaration order.
var Categories = []Category{
	CategoryRegulatory,
	CategorySupply,
	CategoryEarnings,
	CategoryMacro,
	CategorySentiment,
	CategoryDisaster,
}

func (c Category) String() string {
	switch c {
	case CategoryRegulatory:
		return "regulatory"
	case CategorySupply:
		return "supply"
	case CategoryEarnings:
		return "earnings"
	case CategoryMacro:
		return "macro"
	case CategorySentiment:
		return "sentiment"
	case CategoryDisaster:
		return "disaster"
	default:
		return "unknown"
	}
}

func (c Category) Valid() bool {
	return c > CategoryUnknown && c <= CategoryDisaster
}

func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if c.String() == name {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown event category %q", s)
}

// baseWeight is the selection weight used when a scenario does not override
// the category weight. Rare shocks are drawn less often than routine news.
func (c Category) baseWeight() float64 {
	switch c {
	case CategoryRegulatory:
		return 0.8
	case CategorySupply:
		return 1.0
	case CategoryEarnings:
		return 1.4
	case CategoryMacro:
		return 0.6
	case CategorySentiment:
		return 1.2
	case CategoryDisaster:
		return 0.25
	default:
		return 0
	}
}

func (c Category) defaultHeadline() string {
	switch c {
	case CategoryRegulatory:
		return "Regulators act on {target}"
	case CategorySupply:
		return "Supply shift hits {target}"
	case CategoryEarnings:
		return "{target} reports results"
	case CategoryMacro:
		return "Macro data moves {target}"
	case CategorySentiment:
		return "Traders turn on {target}"
	case CategoryDisaster:
		return "Disaster strikes {target}"
	default:
		return "{target} moves"
	}
}

// Scope tags what an event's Target refers to.
type Scope int

const (
	ScopeMarket Scope = iota
	ScopeAsset
	ScopeSector
	// ScopeAnyAsset is only valid in the event pool; it is resolved to a
	// concrete ScopeAsset target when the event is drawn.
	ScopeAnyAsset
)

func (s Scope) String() string {
	switch s {
	case ScopeMarket:
		return "market"
	case ScopeAsset:
		return "asset"
	case ScopeSector:
		return "sector"
	case ScopeAnyAsset:
		return "any"
	default:
		return "unknown"
	}
}

type Target struct {
	Scope Scope  `json:"scope"`
	Value string `json:"value,omitempty"`
}

func MarketWide() Target {
	return Target{Scope: ScopeMarket}
}

func AssetTarget(symbol string) Target {
	return Target{Scope: ScopeAsset, Value: symbol}
}

func SectorTarget(sector string) Target {
	return Target{Scope: ScopeSector, Value: sector}
}

// ParseTarget accepts "market", "any", "sector:<name>" or an asset symbol.
func ParseTarget(s string) Target {
	raw := strings.TrimSpace(s)
	switch lower := strings.ToLower(raw); {
	case lower == "" || lower == "market":
		return MarketWide()
	case lower == "any" || lower == "*":
		return Target{Scope: ScopeAnyAsset}
	case strings.HasPrefix(lower, "sector:"):
		return SectorTarget(strings.TrimSpace(raw[len("sector:"):]))
	default:
		return AssetTarget(strings.ToUpper(raw))
	}
}

func (t Target) Applies(a Asset) bool {
	switch t.Scope {
	case ScopeMarket:
		return true
	case ScopeAsset:
		return t.Value == a.Symbol
	case ScopeSector:
		return t.Value != "" && strings.EqualFold(t.Value, a.Sector)
	case ScopeAnyAsset:
		return false
	default:
		return false
	}
}

func (t Target) label() string {
	switch t.Scope {
	case ScopeMarket:
		return "the market"
	case ScopeAsset:
		return t.Value
	case ScopeSector:
		return t.Value + " sector"
	case ScopeAnyAsset:
		return "a listed asset"
	default:
		return "the market"
	}
}

// MarketEvent is a discrete cause. Magnitude is a signed percentage of the
// previous price applied on the event's first active day and decayed
// linearly over Duration days.
type MarketEvent struct {
	ID        string   `json:"id"`
	Category  Category `json:"category"`
	Magnitude float64  `json:"magnitude"`
	Target    Target   `json:"target"`
	Duration  int      `json:"duration"`
	Headline  string   `json:"headline,omitempty"`
	Weight    float64  `json:"weight,omitempty"`
}

// ActiveEvent is an event in play, with the day it started.
type ActiveEvent struct {
	Event    MarketEvent `json:"event"`
	StartDay int         `json:"start_day"`
	OriginID string      `json:"origin_id,omitempty"`
	Depth    int         `json:"depth"`
	Forced   bool        `json:"forced,omitempty"`
	Ripple   bool        `json:"ripple,omitempty"`
}

// Remaining is the number of days, including day, on which the event still
// moves prices.
func (a ActiveEvent) Remaining(day int) int {
	left := a.StartDay + a.Event.Duration - day
	if left < 0 {
		return 0
	}
	return left
}
