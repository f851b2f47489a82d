package tools

import (
	"context"

	"vaultagent/internal/sandbox"
	"vaultagent/internal/vault"
)

func listDescriptor() Descriptor {
	return Descriptor{
		Name:        "list",
		Description: "List the contents of a folder",
		Params: map[string]ParamSpec{
			"path":       {Type: "string", Description: "Folder path relative to the vault root", Default: ""},
			"recursive":  {Type: "boolean", Description: "Descend into subfolders", Default: false},
			"maxResults": {Type: "number", Description: "Hard cap on listed entries", Default: defaultListMaxResults},
		},
	}
}

type listEntry struct {
	Path     string `json:"path"`
	IsFolder bool   `json:"isFolder"`
	Size     int64  `json:"size,omitempty"`
}

func listFolder(_ context.Context, env Env, params map[string]any) Result {
	rawPath, _ := stringArg(params, "path")
	p, pathRes := resolvePath(env, "list", rawPath)
	if pathRes != nil {
		return *pathRes
	}
	maxResults := intArg(params, "maxResults", defaultListMaxResults)
	if maxResults <= 0 {
		maxResults = defaultListMaxResults
	}
	recursive := boolArg(params, "recursive", false)

	entries, truncated, err := walkWithBudget(env, p, maxResults, recursive)
	if err != nil {
		return vaultFailure("list", err)
	}
	return ok(map[string]any{
		"path":      string(p),
		"entries":   entries,
		"count":     len(entries),
		"truncated": truncated,
	})
}

type listWork struct {
	folder sandbox.Path
	budget int
}

// walkWithBudget lists a folder under a hard entry cap. Every reported entry,
// file or folder, consumes exactly one slot of its folder's budget. In
// recursive mode a folder's own files get a fair allowance of about
// budget/(subfolders+1); whatever remains is split evenly across the immediate
// subfolders, so siblings get comparable representation instead of the first
// subtree draining the cap. The traversal is an explicit stack; tree depth
// never grows the call stack.
func walkWithBudget(env Env, root sandbox.Path, budget int, recursive bool) ([]listEntry, bool, error) {
	entries := make([]listEntry, 0, budget)
	truncated := false

	stack := []listWork{{folder: root, budget: budget}}
	first := true
	for len(stack) > 0 {
		work := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := env.Vault.ListChildren(work.folder)
		if err != nil {
			if first {
				return nil, false, err
			}
			// A subfolder vanished mid-walk; skip it.
			continue
		}
		first = false

		if !recursive {
			for _, child := range children {
				if len(entries) >= work.budget {
					truncated = true
					break
				}
				entries = append(entries, toListEntry(child))
			}
			continue
		}

		var files, folders []int
		for i, child := range children {
			if child.IsFolder {
				folders = append(folders, i)
			} else {
				files = append(files, i)
			}
		}

		fileAllowance := work.budget
		if k := len(folders); k > 0 {
			fileAllowance = (work.budget + k) / (k + 1)
		}
		if fileAllowance > len(files) {
			fileAllowance = len(files)
		}
		for _, idx := range files[:fileAllowance] {
			entries = append(entries, toListEntry(children[idx]))
		}
		if fileAllowance < len(files) {
			truncated = true
		}

		remaining := work.budget - fileAllowance
		if k := len(folders); k > 0 {
			share := remaining / k
			extra := remaining % k
			var pushes []listWork
			for i := 0; i < k; i++ {
				folderBudget := share
				if i < extra {
					folderBudget++
				}
				if folderBudget == 0 {
					truncated = true
					continue
				}
				child := children[folders[i]]
				entries = append(entries, toListEntry(child))
				if folderBudget > 1 {
					pushes = append(pushes, listWork{folder: child.Path, budget: folderBudget - 1})
				}
			}
			// Push in reverse so the stack pops siblings in listing order.
			for i := len(pushes) - 1; i >= 0; i-- {
				stack = append(stack, pushes[i])
			}
		}
	}
	return entries, truncated, nil
}

func toListEntry(node vault.Node) listEntry {
	return listEntry{Path: string(node.Path), IsFolder: node.IsFolder, Size: node.Size}
}
