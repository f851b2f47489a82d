package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"vaultagent/internal/sandbox"
	"vaultagent/internal/vault"
)

const (
	defaultListMaxResults   = 100
	defaultSearchMaxResults = 50
	searchMaxFileBytes      = 512 * 1024
)

// RegisterCore wires the builtin tool set into a registry.
func RegisterCore(reg *Registry) error {
	specs := []struct {
		desc    Descriptor
		handler Handler
	}{
		{readDescriptor(), readFile},
		{writeDescriptor(), writeFile},
		{appendDescriptor(), appendFile},
		{deleteDescriptor(), deleteNode},
		{moveDescriptor(), moveNode},
		{listDescriptor(), listFolder},
		{diffDescriptor(), diffFile},
		{searchDescriptor(), searchVault},
		{thoughtDescriptor(), thought},
		{askHumanDescriptor(), askHuman},
	}
	for _, s := range specs {
		if err := reg.Register(s.desc, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(env Env, tool, raw string) (sandbox.Path, *Result) {
	p, err := env.Paths.Validate(raw)
	if err != nil {
		res := fail(ErrCodePathDenied, tool, "%v", err)
		return "", &res
	}
	return p, nil
}

func vaultFailure(tool string, err error) Result {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return fail(ErrCodeNodeMissing, tool, "%v", err)
	case errors.Is(err, vault.ErrExists):
		return fail(ErrCodeConflict, tool, "%v", err)
	case errors.Is(err, vault.ErrNotFile), errors.Is(err, vault.ErrNotFolder), errors.Is(err, vault.ErrRoot):
		return fail(ErrCodeInvalidInput, tool, "%v", err)
	default:
		return fail(ErrCodeExecution, tool, "%v", err)
	}
}

func readDescriptor() Descriptor {
	return Descriptor{
		Name:        "read",
		Description: "Read the content of a file in the vault",
		Params: map[string]ParamSpec{
			"path": {Type: "string", Description: "File path relative to the vault root", Required: true},
		},
	}
}

func readFile(_ context.Context, env Env, params map[string]any) Result {
	raw, err := requiredString(params, "path")
	if err != nil {
		return fail(ErrCodeInvalidInput, "read", "%v", err)
	}
	p, pathRes := resolvePath(env, "read", raw)
	if pathRes != nil {
		return *pathRes
	}
	content, err := env.Vault.ReadFile(p)
	if err != nil {
		return vaultFailure("read", err)
	}
	return ok(map[string]any{
		"path":    string(p),
		"content": content,
		"size":    humanize.Bytes(uint64(len(content))),
	})
}

func writeDescriptor() Descriptor {
	return Descriptor{
		Name:        "write",
		Description: "Create a file or overwrite its content",
		Params: map[string]ParamSpec{
			"path":    {Type: "string", Description: "File path relative to the vault root", Required: true},
			"content": {Type: "string", Description: "Full new content", Required: true},
		},
	}
}

func writeFile(_ context.Context, env Env, params map[string]any) Result {
	raw, err := requiredString(params, "path")
	if err != nil {
		return fail(ErrCodeInvalidInput, "write", "%v", err)
	}
	content, present := stringArg(params, "content")
	if !present {
		return fail(ErrCodeInvalidInput, "write", "parameter %q must be a string", "content")
	}
	p, pathRes := resolvePath(env, "write", raw)
	if pathRes != nil {
		return *pathRes
	}

	created := false
	if node, exists := env.Vault.Stat(p); exists {
		if node.IsFolder {
			return fail(ErrCodeInvalidInput, "write", "%s is a folder", p)
		}
		if err := env.Vault.Modify(p, content); err != nil {
			return vaultFailure("write", err)
		}
	} else {
		created = true
		if err := env.Vault.Create(p, content); err != nil {
			return vaultFailure("write", err)
		}
	}
	verb := "updated"
	if created {
		verb = "created"
	}
	return ok(map[string]any{
		"path":    string(p),
		"created": created,
		"summary": fmt.Sprintf("%s %s (%s)", verb, p, humanize.Bytes(uint64(len(content)))),
	})
}

func appendDescriptor() Descriptor {
	return Descriptor{
		Name:        "append",
		Description: "Append text to the end of an existing file",
		Params: map[string]ParamSpec{
			"path":    {Type: "string", Description: "File path relative to the vault root", Required: true},
			"content": {Type: "string", Description: "Text to append", Required: true},
		},
	}
}

func appendFile(_ context.Context, env Env, params map[string]any) Result {
	raw, err := requiredString(params, "path")
	if err != nil {
		return fail(ErrCodeInvalidInput, "append", "%v", err)
	}
	content, present := stringArg(params, "content")
	if !present {
		return fail(ErrCodeInvalidInput, "append", "parameter %q must be a string", "content")
	}
	p, pathRes := resolvePath(env, "append", raw)
	if pathRes != nil {
		return *pathRes
	}
	existing, err := env.Vault.ReadFile(p)
	if err != nil {
		return vaultFailure("append", err)
	}
	updated := existing
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += content
	if err := env.Vault.Modify(p, updated); err != nil {
		return vaultFailure("append", err)
	}
	return ok(map[string]any{
		"path":    string(p),
		"summary": fmt.Sprintf("appended %s to %s", humanize.Bytes(uint64(len(content))), p),
	})
}

func deleteDescriptor() Descriptor {
	return Descriptor{
		Name:        "delete",
		Description: "Delete a file, or a folder with all of its contents",
		Params: map[string]ParamSpec{
			"path": {Type: "string", Description: "Path relative to the vault root", Required: true},
		},
	}
}

func deleteNode(_ context.Context, env Env, params map[string]any) Result {
	raw, err := requiredString(params, "path")
	if err != nil {
		return fail(ErrCodeInvalidInput, "delete", "%v", err)
	}
	p, pathRes := resolvePath(env, "delete", raw)
	if pathRes != nil {
		return *pathRes
	}
	node, exists := env.Vault.Stat(p)
	if !exists {
		return fail(ErrCodeNodeMissing, "delete", "no such node: %s", p)
	}
	// Folder deletes are always recursive.
	if err := env.Vault.Delete(p, node.IsFolder); err != nil {
		return vaultFailure("delete", err)
	}
	kind := "file"
	if node.IsFolder {
		kind = "folder"
	}
	return ok(map[string]any{"path": string(p), "summary": fmt.Sprintf("deleted %s %s", kind, p)})
}

func searchDescriptor() Descriptor {
	return Descriptor{
		Name:        "search",
		Description: "Search file contents with a regular expression",
		Params: map[string]ParamSpec{
			"pattern":    {Type: "string", Description: "Go regular expression", Required: true},
			"path":       {Type: "string", Description: "Folder to search under", Default: ""},
			"maxResults": {Type: "number", Description: "Maximum number of matches", Default: defaultSearchMaxResults},
		},
	}
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func searchVault(_ context.Context, env Env, params map[string]any) Result {
	pattern, err := requiredString(params, "pattern")
	if err != nil {
		return fail(ErrCodeInvalidInput, "search", "%v", err)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fail(ErrCodeInvalidInput, "search", "invalid pattern: %v", err)
	}
	rawPath, _ := stringArg(params, "path")
	p, pathRes := resolvePath(env, "search", rawPath)
	if pathRes != nil {
		return *pathRes
	}
	maxResults := intArg(params, "maxResults", defaultSearchMaxResults)
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}

	matches := make([]searchMatch, 0, maxResults)
	truncated := false

	// Explicit work stack instead of recursion; deep trees stay bounded.
	stack := []sandbox.Path{p}
	for len(stack) > 0 && !truncated {
		folder := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := env.Vault.ListChildren(folder)
		if err != nil {
			return vaultFailure("search", err)
		}
		for _, child := range children {
			if child.IsFolder {
				stack = append(stack, child.Path)
				continue
			}
			if child.Size > searchMaxFileBytes {
				continue
			}
			content, err := env.Vault.ReadFile(child.Path)
			if err != nil {
				continue
			}
			scanner := bufio.NewScanner(strings.NewReader(content))
			scanner.Buffer(make([]byte, 0, 64*1024), searchMaxFileBytes)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				if !re.MatchString(scanner.Text()) {
					continue
				}
				if len(matches) >= maxResults {
					truncated = true
					break
				}
				matches = append(matches, searchMatch{
					Path: string(child.Path),
					Line: lineNo,
					Text: strings.TrimSpace(scanner.Text()),
				})
			}
			if truncated {
				break
			}
		}
	}

	return ok(map[string]any{
		"pattern":   pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	})
}
