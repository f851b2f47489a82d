// Package vault is the note-storage collaborator: a flat contract over the
// files inside the sandbox root. Tools talk to this interface only with paths
// that already went through the sandbox validator.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"vaultagent/internal/fsutil"
	"vaultagent/internal/sandbox"
)

var (
	ErrNotFound  = errors.New("vault: node not found")
	ErrExists    = errors.New("vault: node already exists")
	ErrNotFile   = errors.New("vault: node is not a file")
	ErrNotFolder = errors.New("vault: node is not a folder")
	ErrRoot      = errors.New("vault: operation not allowed on the root")
)

// Node describes one entry in the vault.
type Node struct {
	Name     string
	Path     sandbox.Path
	IsFolder bool
	Size     int64
}

// Vault is the storage contract the tool set depends on.
type Vault interface {
	ReadFile(p sandbox.Path) (string, error)
	Modify(p sandbox.Path, content string) error
	Create(p sandbox.Path, content string) error
	Delete(p sandbox.Path, recursive bool) error
	Rename(oldPath, newPath sandbox.Path) error
	CreateFolder(p sandbox.Path) error
	Stat(p sandbox.Path) (Node, bool)
	ListChildren(p sandbox.Path) ([]Node, error)
}

// FS is the OS-backed vault rooted at the validator's root directory.
type FS struct {
	paths *sandbox.Validator
}

func NewFS(paths *sandbox.Validator) *FS {
	return &FS{paths: paths}
}

func (f *FS) ReadFile(p sandbox.Path) (string, error) {
	abs := f.paths.ToAbsolute(p)
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFile, p)
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", p, err)
	}
	return string(b), nil
}

func (f *FS) Modify(p sandbox.Path, content string) error {
	node, ok := f.Stat(p)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if node.IsFolder {
		return fmt.Errorf("%w: %s", ErrNotFile, p)
	}
	return fsutil.WriteAtomic(f.paths.ToAbsolute(p), []byte(content), 0o600)
}

func (f *FS) Create(p sandbox.Path, content string) error {
	if p == "" {
		return ErrRoot
	}
	if _, ok := f.Stat(p); ok {
		return fmt.Errorf("%w: %s", ErrExists, p)
	}
	return fsutil.WriteAtomic(f.paths.ToAbsolute(p), []byte(content), 0o600)
}

func (f *FS) Delete(p sandbox.Path, recursive bool) error {
	if p == "" {
		return ErrRoot
	}
	node, ok := f.Stat(p)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	abs := f.paths.ToAbsolute(p)
	if node.IsFolder && recursive {
		return os.RemoveAll(abs)
	}
	return os.Remove(abs)
}

func (f *FS) Rename(oldPath, newPath sandbox.Path) error {
	if oldPath == "" || newPath == "" {
		return ErrRoot
	}
	if _, ok := f.Stat(oldPath); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldPath)
	}
	if _, ok := f.Stat(newPath); ok {
		return fmt.Errorf("%w: %s", ErrExists, newPath)
	}
	return os.Rename(f.paths.ToAbsolute(oldPath), f.paths.ToAbsolute(newPath))
}

func (f *FS) CreateFolder(p sandbox.Path) error {
	if node, ok := f.Stat(p); ok {
		if node.IsFolder {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFolder, p)
	}
	return os.MkdirAll(f.paths.ToAbsolute(p), 0o755)
}

func (f *FS) Stat(p sandbox.Path) (Node, bool) {
	info, err := os.Stat(f.paths.ToAbsolute(p))
	if err != nil {
		return Node{}, false
	}
	return Node{
		Name:     sandbox.Base(p),
		Path:     p,
		IsFolder: info.IsDir(),
		Size:     info.Size(),
	}, true
}

func (f *FS) ListChildren(p sandbox.Path) ([]Node, error) {
	abs := f.paths.ToAbsolute(p)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFolder, p)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: list %s: %w", p, err)
	}

	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		node := Node{
			Name:     e.Name(),
			Path:     sandbox.Join(p, e.Name()),
			IsFolder: e.IsDir(),
		}
		if fi, err := e.Info(); err == nil && !e.IsDir() {
			node.Size = fi.Size()
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}
