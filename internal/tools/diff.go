package tools

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func diffDescriptor() Descriptor {
	return Descriptor{
		Name:        "diff",
		Description: "Show a line diff between a file's current content and proposed content",
		Params: map[string]ParamSpec{
			"path":    {Type: "string", Description: "File path relative to the vault root", Required: true},
			"content": {Type: "string", Description: "Proposed new content", Required: true},
		},
	}
}

func diffFile(_ context.Context, env Env, params map[string]any) Result {
	raw, err := requiredString(params, "path")
	if err != nil {
		return fail(ErrCodeInvalidInput, "diff", "%v", err)
	}
	proposed, present := stringArg(params, "content")
	if !present {
		return fail(ErrCodeInvalidInput, "diff", "parameter %q must be a string", "content")
	}
	p, pathRes := resolvePath(env, "diff", raw)
	if pathRes != nil {
		return *pathRes
	}
	current, err := env.Vault.ReadFile(p)
	if err != nil {
		return vaultFailure("diff", err)
	}

	text, added, removed := lineDiff(current, proposed)
	return ok(map[string]any{
		"path":    string(p),
		"diff":    text,
		"added":   added,
		"removed": removed,
		"changed": added > 0 || removed > 0,
	})
}

// lineDiff runs diff-match-patch in line mode and renders a +/- listing.
func lineDiff(current, proposed string) (string, int, int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(current, proposed)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	added, removed := 0, 0
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range splitDiffLines(d.Text) {
			out.WriteString(prefix)
			out.WriteString(line)
			out.WriteByte('\n')
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added++
			case diffmatchpatch.DiffDelete:
				removed++
			}
		}
	}
	return out.String(), added, removed
}

func splitDiffLines(text string) []string {
	trimmed := strings.TrimSuffix(text, "\n")
	if trimmed == "" && text != "" {
		return []string{""}
	}
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
