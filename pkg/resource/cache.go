package resource

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	lru "github.com/hashicorp/golang-lru"
)

// Suffix is the extension of every cycle file.
const Suffix = ".cq4"

const defaultCacheSize = 128

// Resource is the derived location of one cycle's file.
type Resource struct {
	Cycle      int
	Name       string
	Path       string
	ParentPath string
}

// Cache memoizes cycle <-> file name conversions for one queue directory.
// Entries are always re-derivable, so eviction only costs a format call.
type Cache struct {
	dir     string
	rc      rollcycle.RollCycle
	byCycle *lru.Cache
	byName  *lru.Cache
}

func NewCache(dir string, rc rollcycle.RollCycle, size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	byCycle, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("resource cache: %w", err)
	}
	byName, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("resource cache: %w", err)
	}
	return &Cache{dir: dir, rc: rc, byCycle: byCycle, byName: byName}, nil
}

func (c *Cache) Dir() string { return c.dir }

func (c *Cache) RollCycle() rollcycle.RollCycle { return c.rc }

// ResourceFor returns the file that holds cycle.
func (c *Cache) ResourceFor(cycle int) Resource {
	if v, ok := c.byCycle.Get(cycle); ok {
		return v.(Resource)
	}
	name := time.UnixMilli(int64(cycle) * c.rc.LengthMs()).UTC().Format(c.rc.Format())
	path := filepath.Join(c.dir, name+Suffix)
	r := Resource{
		Cycle:      cycle,
		Name:       name,
		Path:       path,
		ParentPath: filepath.Dir(path),
	}
	c.byCycle.Add(cycle, r)
	c.byName.Add(name, cycle)
	return r
}

// ParseCount converts a file name without its suffix back to a cycle.
func (c *Cache) ParseCount(name string) (int, error) {
	if v, ok := c.byName.Get(name); ok {
		return v.(int), nil
	}
	t, err := time.ParseInLocation(c.rc.Format(), name, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parse cycle from %q: %w", name, err)
	}
	ms := t.UnixMilli()
	cycle := int(ms / c.rc.LengthMs())
	if ms%c.rc.LengthMs() != 0 && ms < 0 {
		cycle--
	}
	c.byName.Add(name, cycle)
	return cycle, nil
}

// CycleOf parses a cycle file path or base name, suffix included.
func (c *Cache) CycleOf(path string) (int, error) {
	base := filepath.Base(path)
	if !IsQueueFile(base) {
		return 0, fmt.Errorf("%s is not a queue file", base)
	}
	return c.ParseCount(strings.TrimSuffix(base, Suffix))
}

func IsQueueFile(name string) bool {
	return strings.HasSuffix(name, Suffix) && len(name) > len(Suffix)
}
