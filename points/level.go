/*
level.go - Level threshold catalog

PURPOSE:
  Maps cumulative lifetime earned points to a level through an ordered
  table of [MinPoints, MaxPoints) ranges. The table must partition
  [0, ∞): no gaps, no overlaps, exactly one unbounded top tier.

VALIDATION:
  The partition invariant is checked once, when the catalog is built.
  A catalog that fails validation is a fatal configuration error; the
  process should refuse to start rather than serve wrong levels.

LOOKUP:
  LevelFor is a pure binary search. Levels are monotonically
  non-decreasing in totalEarned, and totalEarned never decreases, so a
  user's level never goes down.

CONFIGURATION:
  Catalogs load from a YAML file (see LoadCatalogFile) or fall back to
  DefaultCatalog.
*/
package points

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// LEVEL DEFINITION
// =============================================================================

// LevelDefinition is one row of the threshold table. MaxPoints nil means
// the unbounded top tier; otherwise the range is [MinPoints, MaxPoints).
type LevelDefinition struct {
	Level     int    `yaml:"level"`
	Name      string `yaml:"name"`
	MinPoints int64  `yaml:"min_points"`
	MaxPoints *int64 `yaml:"max_points"`
}

// Contains reports whether totalEarned falls inside this range.
func (d LevelDefinition) Contains(totalEarned int64) bool {
	if totalEarned < d.MinPoints {
		return false
	}
	return d.MaxPoints == nil || totalEarned < *d.MaxPoints
}

// =============================================================================
// CATALOG
// =============================================================================

type Catalog struct {
	levels []LevelDefinition // sorted by MinPoints ascending
}

// NewCatalog validates the partition invariant and builds a catalog.
func NewCatalog(defs []LevelDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("level catalog: empty")
	}

	sorted := make([]LevelDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })

	if sorted[0].MinPoints != 0 {
		return nil, fmt.Errorf("level catalog: first tier must start at 0, starts at %d", sorted[0].MinPoints)
	}

	for i, d := range sorted {
		if d.Level < 1 {
			return nil, fmt.Errorf("level catalog: level must be >= 1, got %d", d.Level)
		}
		if i > 0 && d.Level <= sorted[i-1].Level {
			return nil, fmt.Errorf("level catalog: levels must be strictly increasing, %d after %d", d.Level, sorted[i-1].Level)
		}

		last := i == len(sorted)-1
		if last {
			if d.MaxPoints != nil {
				return nil, fmt.Errorf("level catalog: top tier %d must be unbounded", d.Level)
			}
			continue
		}
		if d.MaxPoints == nil {
			return nil, fmt.Errorf("level catalog: only the top tier may be unbounded, level %d is not last", d.Level)
		}
		if *d.MaxPoints <= d.MinPoints {
			return nil, fmt.Errorf("level catalog: level %d has empty range [%d, %d)", d.Level, d.MinPoints, *d.MaxPoints)
		}
		if next := sorted[i+1]; next.MinPoints != *d.MaxPoints {
			return nil, fmt.Errorf("level catalog: gap or overlap between level %d (max %d) and level %d (min %d)",
				d.Level, *d.MaxPoints, next.Level, next.MinPoints)
		}
	}

	return &Catalog{levels: sorted}, nil
}

// LevelFor returns the unique level whose range contains totalEarned.
// totalEarned must be non-negative; negative input clamps to the first tier.
func (c *Catalog) LevelFor(totalEarned int64) LevelDefinition {
	if totalEarned < 0 {
		return c.levels[0]
	}
	// First tier whose range ends above totalEarned.
	i := sort.Search(len(c.levels), func(i int) bool {
		d := c.levels[i]
		return d.MaxPoints == nil || totalEarned < *d.MaxPoints
	})
	return c.levels[i]
}

// Next returns the tier above the given level, or nil at the top.
func (c *Catalog) Next(level int) *LevelDefinition {
	for i, d := range c.levels {
		if d.Level == level && i+1 < len(c.levels) {
			next := c.levels[i+1]
			return &next
		}
	}
	return nil
}

// Levels returns the ordered table (copy).
func (c *Catalog) Levels() []LevelDefinition {
	out := make([]LevelDefinition, len(c.levels))
	copy(out, c.levels)
	return out
}

// Progress reports how far into the current tier totalEarned sits, as a
// percentage with one decimal place. The top tier is always 100.
func (c *Catalog) Progress(totalEarned int64) decimal.Decimal {
	cur := c.LevelFor(totalEarned)
	next := c.Next(cur.Level)
	if next == nil {
		return decimal.NewFromInt(100)
	}
	span := decimal.NewFromInt(next.MinPoints - cur.MinPoints)
	into := decimal.NewFromInt(totalEarned - cur.MinPoints)
	return into.Div(span).Mul(decimal.NewFromInt(100)).Round(1)
}

// PointsToNext returns how many more earned points reach the next tier,
// or 0 at the top.
func (c *Catalog) PointsToNext(totalEarned int64) int64 {
	next := c.Next(c.LevelFor(totalEarned).Level)
	if next == nil {
		return 0
	}
	return next.MinPoints - totalEarned
}

// =============================================================================
// LOADING
// =============================================================================

type catalogFile struct {
	Levels []LevelDefinition `yaml:"levels"`
}

// LoadCatalogFile reads and validates a YAML level catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse level catalog: %w", err)
	}
	return NewCatalog(f.Levels)
}

func maxPtr(v int64) *int64 { return &v }

// DefaultCatalog is the built-in five-tier table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]LevelDefinition{
		{Level: 1, Name: "Bronze", MinPoints: 0, MaxPoints: maxPtr(500)},
		{Level: 2, Name: "Silver", MinPoints: 500, MaxPoints: maxPtr(2000)},
		{Level: 3, Name: "Gold", MinPoints: 2000, MaxPoints: maxPtr(5000)},
		{Level: 4, Name: "Platinum", MinPoints: 5000, MaxPoints: maxPtr(10000)},
		{Level: 5, Name: "Diamond", MinPoints: 10000},
	})
	if err != nil {
		panic(err) // static table, cannot fail
	}
	return c
}
