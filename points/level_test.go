package points_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func maxPtr(v int64) *int64 { return &v }

func defs(d ...points.LevelDefinition) []points.LevelDefinition { return d }

// =============================================================================
// PARTITION VALIDATION TESTS
// =============================================================================

func TestNewCatalog_ValidPartition(t *testing.T) {
	// GIVEN: A contiguous table covering [0, inf)
	// WHEN: Building the catalog
	// THEN: Validation passes

	_, err := points.NewCatalog(defs(
		points.LevelDefinition{Level: 1, Name: "Bronze", MinPoints: 0, MaxPoints: maxPtr(100)},
		points.LevelDefinition{Level: 2, Name: "Silver", MinPoints: 100, MaxPoints: maxPtr(500)},
		points.LevelDefinition{Level: 3, Name: "Gold", MinPoints: 500},
	))
	assert.NoError(t, err)
}

func TestNewCatalog_Invalid(t *testing.T) {
	cases := []struct {
		name string
		defs []points.LevelDefinition
	}{
		{"empty table", nil},
		{"first tier not at zero", defs(
			points.LevelDefinition{Level: 1, MinPoints: 10},
		)},
		{"gap between tiers", defs(
			points.LevelDefinition{Level: 1, MinPoints: 0, MaxPoints: maxPtr(100)},
			points.LevelDefinition{Level: 2, MinPoints: 200},
		)},
		{"overlapping tiers", defs(
			points.LevelDefinition{Level: 1, MinPoints: 0, MaxPoints: maxPtr(100)},
			points.LevelDefinition{Level: 2, MinPoints: 50},
		)},
		{"bounded top tier", defs(
			points.LevelDefinition{Level: 1, MinPoints: 0, MaxPoints: maxPtr(100)},
			points.LevelDefinition{Level: 2, MinPoints: 100, MaxPoints: maxPtr(500)},
		)},
		{"unbounded middle tier", defs(
			points.LevelDefinition{Level: 1, MinPoints: 0},
			points.LevelDefinition{Level: 2, MinPoints: 100, MaxPoints: maxPtr(500)},
		)},
		{"non-increasing level numbers", defs(
			points.LevelDefinition{Level: 2, MinPoints: 0, MaxPoints: maxPtr(100)},
			points.LevelDefinition{Level: 1, MinPoints: 100},
		)},
		{"empty range", defs(
			points.LevelDefinition{Level: 1, MinPoints: 0, MaxPoints: maxPtr(0)},
			points.LevelDefinition{Level: 2, MinPoints: 0},
		)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := points.NewCatalog(tc.defs)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// LOOKUP TESTS
// =============================================================================

func TestLevelFor_Boundaries(t *testing.T) {
	// GIVEN: The default five-tier table
	// WHEN: Looking up values on and around tier boundaries
	// THEN: Ranges are half-open [min, max)

	c := points.DefaultCatalog()

	assert.Equal(t, 1, c.LevelFor(0).Level)
	assert.Equal(t, 1, c.LevelFor(499).Level)
	assert.Equal(t, 2, c.LevelFor(500).Level, "boundary belongs to the upper tier")
	assert.Equal(t, 2, c.LevelFor(1999).Level)
	assert.Equal(t, 3, c.LevelFor(2000).Level)
	assert.Equal(t, 5, c.LevelFor(10000).Level)
	assert.Equal(t, 5, c.LevelFor(1<<40).Level, "top tier is unbounded")
	assert.Equal(t, 1, c.LevelFor(-5).Level, "negative clamps to first tier")
}

func TestLevelFor_Monotonic(t *testing.T) {
	// GIVEN: The default table
	// WHEN: Scanning increasing totalEarned
	// THEN: Level never decreases

	c := points.DefaultCatalog()
	prev := 0
	for v := int64(0); v <= 12000; v += 50 {
		lvl := c.LevelFor(v).Level
		assert.GreaterOrEqual(t, lvl, prev, "level regressed at %d", v)
		prev = lvl
	}
}

func TestCatalog_NextAndProgress(t *testing.T) {
	c := points.DefaultCatalog()

	next := c.Next(1)
	require.NotNil(t, next)
	assert.Equal(t, "Silver", next.Name)
	assert.Nil(t, c.Next(5), "no tier above the top")

	assert.Equal(t, "50", c.Progress(250).String(), "250 of [0,500) is 50%")
	assert.Equal(t, "100", c.Progress(20000).String(), "top tier is always 100")
	assert.Equal(t, int64(250), c.PointsToNext(250))
	assert.Equal(t, int64(0), c.PointsToNext(20000))
}

// =============================================================================
// FILE LOADING TESTS
// =============================================================================

func TestLoadCatalogFile(t *testing.T) {
	// GIVEN: A yaml catalog on disk
	// WHEN: Loading it
	// THEN: The parsed table validates and resolves lookups

	path := filepath.Join(t.TempDir(), "levels.yaml")
	data := `levels:
  - level: 1
    name: Starter
    min_points: 0
    max_points: 1000
  - level: 2
    name: Veteran
    min_points: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := points.LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Starter", c.LevelFor(999).Name)
	assert.Equal(t, "Veteran", c.LevelFor(1000).Name)
}

func TestLoadCatalogFile_InvalidTable(t *testing.T) {
	// GIVEN: A yaml catalog with a gap
	// WHEN: Loading it
	// THEN: Loading fails; a bad table must never reach the engine

	path := filepath.Join(t.TempDir(), "levels.yaml")
	data := `levels:
  - level: 1
    name: Starter
    min_points: 0
    max_points: 1000
  - level: 2
    name: Veteran
    min_points: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	_, err := points.LoadCatalogFile(path)
	assert.Error(t, err)
}
