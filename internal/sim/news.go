package sim

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

type NewsEntry struct {
	Day       int      `json:"day"`
	EventID   string   `json:"event_id"`
	Category  Category `json:"category"`
	Magnitude float64  `json:"magnitude"`
	Text      string   `json:"text"`
}

// orderByAttention sorts by absolute magnitude descending, then id.
func orderByAttention(events []ActiveEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		mi, mj := math.Abs(events[i].Event.Magnitude), math.Abs(events[j].Event.Magnitude)
		if mi != mj {
			return mi > mj
		}
		return events[i].Event.ID < events[j].Event.ID
	})
}

func renderHeadline(ev MarketEvent, day int) string {
	tmpl := strings.TrimSpace(ev.Headline)
	if tmpl == "" {
		tmpl = ev.Category.defaultHeadline()
	}
	sign := "+"
	if ev.Magnitude < 0 {
		sign = ""
	}
	r := strings.NewReplacer(
		"{target}", ev.Target.label(),
		"{magnitude}", sign+strconv.FormatFloat(ev.Magnitude, 'f', 1, 64)+"%",
		"{day}", strconv.Itoa(day+1),
		"{category}", ev.Category.String(),
	)
	return r.Replace(tmpl)
}

func buildNews(day int, events []ActiveEvent) []NewsEntry {
	ordered := append([]ActiveEvent(nil), events...)
	orderByAttention(ordered)
	out := make([]NewsEntry, 0, len(ordered))
	for _, ae := range ordered {
		out = append(out, NewsEntry{
			Day:       day,
			EventID:   ae.Event.ID,
			Category:  ae.Event.Category,
			Magnitude: ae.Event.Magnitude,
			Text:      renderHeadline(ae.Event, day),
		})
	}
	return out
}

// prependNews puts the day's entries in front of history and evicts the
// oldest entries beyond limit.
func prependNews(history, today []NewsEntry, limit int) []NewsEntry {
	out := make([]NewsEntry, 0, len(today)+len(history))
	out = append(out, today...)
	out = append(out, history...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
