package tools

import (
	"context"
	"fmt"
	"strings"

	"vaultagent/internal/sandbox"
)

func moveDescriptor() Descriptor {
	return Descriptor{
		Name:        "move",
		Description: "Move or rename a file or folder",
		Params: map[string]ParamSpec{
			"sourcePath":      {Type: "string", Description: "Node to move (alias: path)"},
			"path":            {Type: "string", Description: "Alias for sourcePath"},
			"destinationPath": {Type: "string", Description: "Full destination path"},
			"newName":         {Type: "string", Description: "New name inside the source's parent folder; wins over destinationPath"},
			"overwrite":       {Type: "boolean", Description: "Replace an existing destination", Default: false},
			"createFolders":   {Type: "boolean", Description: "Create missing destination parent folders", Default: true},
		},
	}
}

func moveNode(_ context.Context, env Env, params map[string]any) Result {
	rawSource, present := stringArg(params, "sourcePath")
	if !present || strings.TrimSpace(rawSource) == "" {
		rawSource, present = stringArg(params, "path")
		if !present || strings.TrimSpace(rawSource) == "" {
			return fail(ErrCodeInvalidInput, "move", "sourcePath (or path) is required")
		}
	}
	source, pathRes := resolvePath(env, "move", rawSource)
	if pathRes != nil {
		return *pathRes
	}

	// newName implies the same parent as the source and takes precedence when
	// both destination forms are given.
	var rawDest string
	if newName, hasName := stringArg(params, "newName"); hasName && strings.TrimSpace(newName) != "" {
		rawDest = string(sandbox.Join(sandbox.Parent(source), strings.TrimSpace(newName)))
	} else if destPath, hasDest := stringArg(params, "destinationPath"); hasDest && strings.TrimSpace(destPath) != "" {
		rawDest = destPath
	} else {
		return fail(ErrCodeInvalidInput, "move", "destinationPath or newName is required")
	}
	dest, pathRes := resolvePath(env, "move", rawDest)
	if pathRes != nil {
		return *pathRes
	}
	if dest == source {
		return fail(ErrCodeInvalidInput, "move", "destination equals source: %s", source)
	}

	if _, exists := env.Vault.Stat(source); !exists {
		return fail(ErrCodeNodeMissing, "move", "no such node: %s", source)
	}

	overwrite := boolArg(params, "overwrite", false)
	if destNode, exists := env.Vault.Stat(dest); exists {
		if !overwrite {
			return fail(ErrCodeConflict, "move", "destination already exists: %s (set overwrite to replace)", dest)
		}
		if err := env.Vault.Delete(dest, destNode.IsFolder); err != nil {
			return vaultFailure("move", err)
		}
	}

	if parent := sandbox.Parent(dest); parent != "" {
		parentNode, exists := env.Vault.Stat(parent)
		switch {
		case exists && !parentNode.IsFolder:
			return fail(ErrCodeInvalidInput, "move", "destination parent is not a folder: %s", parent)
		case !exists && boolArg(params, "createFolders", true):
			if err := env.Vault.CreateFolder(parent); err != nil {
				return vaultFailure("move", err)
			}
		case !exists:
			return fail(ErrCodeNodeMissing, "move", "destination folder does not exist: %s", parent)
		}
	}

	if err := env.Vault.Rename(source, dest); err != nil {
		return vaultFailure("move", err)
	}
	return ok(map[string]any{
		"sourcePath":      string(source),
		"destinationPath": string(dest),
		"summary":         fmt.Sprintf("moved %s to %s", source, dest),
	})
}
