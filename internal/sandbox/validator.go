// Package sandbox confines every externally supplied path to a single root
// directory. All tool-facing path handling goes through the Validator; nothing
// else in the repository constructs vault-relative paths from raw input.
package sandbox

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Path is a normalized, forward-slash, root-relative path that is guaranteed
// not to escape the configured root. The empty Path refers to the root itself.
type Path string

// PathError reports an input that could not be confined to the root.
type PathError struct {
	Input  string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("sandbox: path %q rejected: %s", e.Input, e.Reason)
}

// Validator checks paths against one root directory. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	root string
}

// NewValidator builds a validator for the given root directory. The root is
// made absolute once so later checks are pure string work.
func NewValidator(root string) (*Validator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve root: %w", err)
	}
	return &Validator{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root directory.
func (v *Validator) Root() string { return v.root }

// Validate normalizes input and fails with *PathError if the result would
// resolve outside the root.
//
// Rules: whitespace is trimmed; "", ".", "./" and "/" mean the root;
// backslashes become forward slashes; an absolute input must live under the
// root's absolute location and is converted to root-relative form; a relative
// input is cleaned and rejected when any ".." segment survives cleaning.
func (v *Validator) Validate(input string) (Path, error) {
	raw := strings.TrimSpace(input)
	raw = strings.ReplaceAll(raw, "\\", "/")

	switch raw {
	case "", ".", "./", "/":
		return Path(""), nil
	}

	if isAbsInput(raw) {
		rel, err := filepath.Rel(v.root, filepath.Clean(filepath.FromSlash(raw)))
		if err == nil {
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return Path(""), nil
			}
			if rel != ".." && !strings.HasPrefix(rel, "../") {
				return Path(rel), nil
			}
		}
		// A single leading slash is also how callers spell root-relative
		// paths; only slash-prefixed inputs get that second reading.
		if !strings.HasPrefix(raw, "/") {
			return "", &PathError{Input: input, Reason: "outside root"}
		}
	}

	clean := path.Clean(strings.TrimPrefix(raw, "/"))
	if clean == "." {
		return Path(""), nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", &PathError{Input: input, Reason: "path traversal"}
	}
	return Path(clean), nil
}

// ToAbsolute converts a validated path back to an absolute filesystem path
// under the root.
func (v *Validator) ToAbsolute(p Path) string {
	if p == "" {
		return v.root
	}
	return filepath.Join(v.root, filepath.FromSlash(string(p)))
}

// Equal reports whether two raw inputs normalize to the same sandbox path.
// Invalid input compares unequal instead of failing.
func (v *Validator) Equal(a, b string) bool {
	pa, err := v.Validate(a)
	if err != nil {
		return false
	}
	pb, err := v.Validate(b)
	if err != nil {
		return false
	}
	return pa == pb
}

// Parent returns the parent of p, or the root path when p has no parent.
func Parent(p Path) Path {
	idx := strings.LastIndex(string(p), "/")
	if idx < 0 {
		return Path("")
	}
	return p[:idx]
}

// Join appends a name to p, keeping the normalized form.
func Join(p Path, name string) Path {
	if p == "" {
		return Path(name)
	}
	return Path(string(p) + "/" + name)
}

// Base returns the final element of p.
func Base(p Path) string {
	if p == "" {
		return ""
	}
	idx := strings.LastIndex(string(p), "/")
	return string(p[idx+1:])
}

func isAbsInput(raw string) bool {
	if filepath.IsAbs(filepath.FromSlash(raw)) {
		return true
	}
	// Windows-style drive prefix arriving on any platform.
	if len(raw) >= 3 && raw[1] == ':' && raw[2] == '/' {
		return true
	}
	return false
}
