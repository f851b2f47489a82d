package tools

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultagent/internal/sandbox"
)

func TestListNonRecursiveBudget(t *testing.T) {
	reg, fs := newTestRegistry(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, fs.Create(sandbox.Path(fmt.Sprintf("f%d.md", i)), "x"))
	}

	data := dataOf(t, exec(t, reg, "list", map[string]any{"maxResults": 3}))
	assert.Equal(t, 3, data["count"])
	assert.Equal(t, true, data["truncated"])

	data = dataOf(t, exec(t, reg, "list", map[string]any{"maxResults": 5}))
	assert.Equal(t, 5, data["count"])
	assert.Equal(t, false, data["truncated"])
}

func TestListEmptyFolder(t *testing.T) {
	reg, fs := newTestRegistry(t)
	require.NoError(t, fs.CreateFolder("empty"))
	data := dataOf(t, exec(t, reg, "list", map[string]any{"path": "empty"}))
	assert.Equal(t, 0, data["count"])
	assert.Equal(t, false, data["truncated"])
}

func TestListMissingFolder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	res := exec(t, reg, "list", map[string]any{"path": "nope"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(ErrCodeNodeMissing))
}

func TestListRecursiveNeverExceedsBudget(t *testing.T) {
	reg, fs := newTestRegistry(t)
	// Two sibling folders with many files each, plus files at the root.
	for i := 0; i < 4; i++ {
		require.NoError(t, fs.Create(sandbox.Path(fmt.Sprintf("root%d.md", i)), "x"))
	}
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, fs.CreateFolder(sandbox.Path(dir)))
		for i := 0; i < 20; i++ {
			require.NoError(t, fs.Create(sandbox.Path(fmt.Sprintf("%s/n%02d.md", dir, i)), "x"))
		}
	}

	for _, budget := range []int{1, 2, 3, 7, 10, 25, 100} {
		data := dataOf(t, exec(t, reg, "list", map[string]any{
			"recursive":  true,
			"maxResults": budget,
		}))
		count := data["count"].(int)
		assert.LessOrEqual(t, count, budget, "budget %d", budget)
	}
}

func TestListRecursiveSiblingFairness(t *testing.T) {
	reg, fs := newTestRegistry(t)
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, fs.CreateFolder(sandbox.Path(dir)))
		for i := 0; i < 20; i++ {
			require.NoError(t, fs.Create(sandbox.Path(fmt.Sprintf("%s/n%02d.md", dir, i)), "x"))
		}
	}

	data := dataOf(t, exec(t, reg, "list", map[string]any{
		"recursive":  true,
		"maxResults": 12,
	}))
	assert.Equal(t, true, data["truncated"])

	entries := data["entries"].([]listEntry)
	perFolder := map[string]int{}
	for _, e := range entries {
		switch {
		case e.Path == "a" || len(e.Path) > 2 && e.Path[:2] == "a/":
			perFolder["a"]++
		case e.Path == "b" || len(e.Path) > 2 && e.Path[:2] == "b/":
			perFolder["b"]++
		}
	}
	// The first folder must not drain the whole budget.
	assert.Greater(t, perFolder["b"], 0)
	diff := perFolder["a"] - perFolder["b"]
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 2, "siblings should get roughly equal shares: %v", perFolder)
}

func TestListRecursiveIncludesSubfolderEntries(t *testing.T) {
	reg, fs := newTestRegistry(t)
	require.NoError(t, fs.CreateFolder("sub"))
	require.NoError(t, fs.Create("sub/x.md", "x"))
	require.NoError(t, fs.Create("top.md", "x"))

	data := dataOf(t, exec(t, reg, "list", map[string]any{
		"recursive":  true,
		"maxResults": 10,
	}))
	paths := map[string]bool{}
	for _, e := range data["entries"].([]listEntry) {
		paths[e.Path] = e.IsFolder
	}
	assert.Contains(t, paths, "top.md")
	assert.Contains(t, paths, "sub")
	assert.Contains(t, paths, "sub/x.md")
	assert.True(t, paths["sub"])
	assert.False(t, paths["sub/x.md"])
	assert.Equal(t, false, data["truncated"])
}
