package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rippletrade/internal/sim"
)

func TestBuiltinCatalogLoads(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	list := c.List()
	if len(list) < 3 {
		t.Fatalf("expected at least 3 builtin scenarios, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("list not sorted: %v", list)
		}
	}
	for _, s := range list {
		sc, err := c.Get(s.ID)
		if err != nil {
			t.Fatalf("get %s: %v", s.ID, err)
		}
		if _, err := sim.Play(sc, 1); err != nil {
			t.Fatalf("play %s: %v", s.ID, err)
		}
	}
}

func TestOreBasicsMatchesExample(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	sc, err := c.Get("ore-basics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	results, err := sim.Play(sc, 2024)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if results[0].Prices["ORE"] <= 100 {
		t.Fatalf("day 0 price %f not above 100", results[0].Prices["ORE"])
	}
	found := false
	for _, ae := range results[2].Active {
		if ae.Ripple && ae.StartDay == 2 && ae.OriginID == "ore-strike" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no ripple child on day 2")
	}
}

func TestGetUnknown(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":    `{"id":"x","days":1,"assets":[{"symbol":"A","start_price":1,"floor":1}],"bogus":1}`,
		"bad category":     `{"id":"x","days":1,"assets":[{"symbol":"A","start_price":1,"floor":1}],"events":[{"id":"e","category":"weather","target":"A","duration":1}]}`,
		"script past end":  `{"id":"x","days":2,"assets":[{"symbol":"A","start_price":1,"floor":1}],"script":[{"day":2}]}`,
		"duplicate script": `{"id":"x","days":2,"assets":[{"symbol":"A","start_price":1,"floor":1}],"script":[{"day":1},{"day":1}]}`,
		"zero days":        `{"id":"x","days":0,"assets":[{"symbol":"A","start_price":1,"floor":1}]}`,
		"negative days":    `{"id":"x","days":-1,"assets":[{"symbol":"A","start_price":1,"floor":1}]}`,
		"too many days":    `{"id":"x","days":100000000,"assets":[{"symbol":"A","start_price":1,"floor":1}]}`,
		"not json":         `{`,
	}
	for name, raw := range tests {
		if _, err := Parse([]byte(raw)); !errors.Is(err, sim.ErrInvalidScenario) {
			t.Fatalf("%s: expected ErrInvalidScenario, got %v", name, err)
		}
	}
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	raw := []byte(`{"id":"dup","days":1,"assets":[{"symbol":"A","start_price":1,"floor":1}]}`)
	for _, name := range []string{"a.json", "b.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewCatalog()
	if err := c.LoadDir(dir); !errors.Is(err, sim.ErrInvalidScenario) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	if _, err := c.Get("dup"); err != nil {
		t.Fatalf("first file should have loaded: %v", err)
	}
}
