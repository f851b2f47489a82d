package sandbox

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestValidateRootForms(t *testing.T) {
	v := newTestValidator(t)
	for _, input := range []string{"", ".", "./", "/", "  ", " . "} {
		p, err := v.Validate(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, Path(""), p, "input %q", input)
	}
}

func TestValidateNormalizes(t *testing.T) {
	v := newTestValidator(t)
	cases := map[string]Path{
		"notes/a.md":        "notes/a.md",
		"./notes/a.md":      "notes/a.md",
		"notes//a.md":       "notes/a.md",
		"notes/./a.md":      "notes/a.md",
		"notes\\sub\\a.md":  "notes/sub/a.md",
		"/notes/a.md":       "notes/a.md",
		"notes/sub/../a.md": "notes/a.md",
		" notes/a.md ":      "notes/a.md",
	}
	for input, want := range cases {
		got, err := v.Validate(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestValidateRejectsTraversal(t *testing.T) {
	v := newTestValidator(t)
	for _, input := range []string{
		"../../etc/passwd",
		"..",
		"../",
		"notes/../../escape.md",
		"..\\..\\secrets",
		"/..",
	} {
		_, err := v.Validate(input)
		var pe *PathError
		require.ErrorAs(t, err, &pe, "input %q", input)
	}
}

func TestValidateAbsoluteInputs(t *testing.T) {
	v := newTestValidator(t)

	inside := filepath.Join(v.Root(), "notes", "a.md")
	p, err := v.Validate(inside)
	require.NoError(t, err)
	assert.Equal(t, Path("notes/a.md"), p)

	rootItself, err := v.Validate(v.Root())
	require.NoError(t, err)
	assert.Equal(t, Path(""), rootItself)
}

func TestToAbsoluteAlwaysUnderRoot(t *testing.T) {
	v := newTestValidator(t)
	inputs := []string{
		"", ".", "/", "a.md", "deep/nested/dir/file.txt", "/slash/lead",
		"a/./b", "a//b", "mixed\\sep\\file", " padded ",
		filepath.Join(v.Root(), "x.md"),
	}
	for _, input := range inputs {
		p, err := v.Validate(input)
		require.NoError(t, err, "input %q", input)
		abs := v.ToAbsolute(p)
		require.True(t, abs == v.Root() || strings.HasPrefix(abs, v.Root()+string(filepath.Separator)),
			"input %q resolved to %q which is not under %q", input, abs, v.Root())
	}
}

func TestEqual(t *testing.T) {
	v := newTestValidator(t)
	assert.True(t, v.Equal("notes/a.md", "./notes//a.md"))
	assert.True(t, v.Equal("/", ""))
	assert.True(t, v.Equal("notes\\a.md", "notes/a.md"))
	assert.False(t, v.Equal("notes/a.md", "notes/b.md"))
	assert.False(t, v.Equal("../escape", "escape"))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, Path("notes"), Parent(Path("notes/a.md")))
	assert.Equal(t, Path(""), Parent(Path("a.md")))
	assert.Equal(t, Path("notes/a.md"), Join(Path("notes"), "a.md"))
	assert.Equal(t, Path("a.md"), Join(Path(""), "a.md"))
	assert.Equal(t, "a.md", Base(Path("notes/a.md")))
	assert.Equal(t, "", Base(Path("")))
}
