package scenario

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"rippletrade/internal/sim"
)

//go:embed data/*.json
var builtin embed.FS

var ErrNotFound = errors.New("scenario not found")

type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Days        int    `json:"days"`
	Assets      int    `json:"assets"`
}

// Catalog is a concurrency-safe set of validated scenarios keyed by id.
type Catalog struct {
	mu   sync.RWMutex
	byID map[string]*sim.Scenario
}

func NewCatalog() *Catalog {
	return &Catalog{byID: map[string]*sim.Scenario{}}
}

// Builtin returns a catalog holding the scenarios shipped with the binary.
func Builtin() (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadFS(builtin, "data"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Add(sc *sim.Scenario) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byID[sc.ID()]; dup {
		return fmt.Errorf("%w: duplicate scenario id %s", sim.ErrInvalidScenario, sc.ID())
	}
	c.byID[sc.ID()] = sc
	return nil
}

// LoadFS parses every *.json file directly under dir.
func (c *Catalog) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read scenario dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		sc, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := c.Add(sc); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

func (c *Catalog) LoadDir(dir string) error {
	return c.LoadFS(os.DirFS(dir), ".")
}

func (c *Catalog) Get(id string) (*sim.Scenario, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sc, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc, nil
}

func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.byID))
	for _, sc := range c.byID {
		out = append(out, Summary{
			ID:          sc.ID(),
			Title:       sc.Title(),
			Description: sc.Description(),
			Days:        sc.DayCount(),
			Assets:      len(sc.Assets()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
