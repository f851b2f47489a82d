package toolparse

import (
	"encoding/json"
	"strings"

	"vaultagent/internal/agent"
	"vaultagent/internal/tools"
)

// toolAliases maps the names models actually emit onto the registered tool
// set. Identity entries keep the canonical names themselves accepted.
var toolAliases = map[string]string{
	"move":      "move",
	"rename":    "move",
	"mv":        "move",
	"list":      "list",
	"ls":        "list",
	"read":      "read",
	"cat":       "read",
	"write":     "write",
	"append":    "append",
	"delete":    "delete",
	"remove":    "delete",
	"rm":        "delete",
	"diff":      "diff",
	"compare":   "diff",
	"search":    "search",
	"grep":      "search",
	"thought":   "thought",
	"think":     "thought",
	"ask_human": "ask_human",
	"ask-human": "ask_human",
	"askhuman":  "ask_human",
	"ask":       "ask_human",
}

// Extraction records one fenced block's fate, accepted or not, so callers
// can audit exactly what the model tried to invoke.
type Extraction struct {
	RawSnippet   string
	ParsedAction string
	ParsedParams json.RawMessage
	Accepted     bool
	Reason       string
}

type ParseResult struct {
	Commands    []agent.ToolCommand
	Extractions []Extraction
	// CleanText is the input with every accepted fenced block removed.
	CleanText string
	Finished  bool
}

// Parser turns raw model output into tool commands. A nil or empty allowlist
// accepts any aliased tool name.
type Parser struct {
	Allowed  []string
	MaxCalls int
}

// Process implements agent.Processor.
func (p *Parser) Process(raw string, _ []agent.Message) (agent.Processed, error) {
	res := Parse(raw, p.Allowed, p.MaxCalls)
	return agent.Processed{
		Text:     res.CleanText,
		Commands: res.Commands,
		HasTools: len(res.Commands) > 0,
		Finished: res.Finished,
	}, nil
}

// Parse extracts tool commands from fenced ```json or ```tool blocks.
// Blocks that fail to parse are recorded as rejected extractions and left
// in the clean text so nothing the model said silently disappears.
func Parse(content string, allowedTools []string, maxCalls int) ParseResult {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	result := ParseResult{CleanText: content}

	blocks := fencedBlocks(content)
	if len(blocks) == 0 {
		if parsed, ok := inlineCommand(content, allowedTools); ok {
			result.Finished = parsed.Finished
			if !parsed.BareFinish {
				result.Commands = append(result.Commands, parsed.Command)
			}
			result.CleanText = ""
		}
		result.CleanText = strings.TrimSpace(result.CleanText)
		return result
	}

	clean := content
	for _, block := range blocks {
		extraction := Extraction{RawSnippet: strings.TrimSpace(block.full)}

		parsed, accepted := parseCommand(strings.TrimSpace(block.body), allowedTools)
		extraction.ParsedAction = parsed.ParsedAction
		extraction.ParsedParams = parsed.ParsedParams
		extraction.Accepted = accepted
		extraction.Reason = parsed.Reason
		result.Extractions = append(result.Extractions, extraction)

		if parsed.Finished {
			result.Finished = true
		}
		if !accepted {
			continue
		}
		clean = strings.Replace(clean, block.full, "", 1)
		if parsed.BareFinish {
			continue
		}
		result.Commands = append(result.Commands, parsed.Command)
		if len(result.Commands) >= maxCalls {
			break
		}
	}
	result.CleanText = strings.TrimSpace(clean)
	return result
}

// CanonicalAction resolves a model-emitted name to a registered tool name.
func CanonicalAction(name string) (string, bool) {
	candidate := strings.ToLower(strings.TrimSpace(name))
	if candidate == "" {
		return "", false
	}
	action, ok := toolAliases[candidate]
	return action, ok
}

// IsAllowed reports whether the canonical action passes the allowlist.
func IsAllowed(action string, allowed []string) bool {
	if strings.TrimSpace(action) == "" {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, raw := range allowed {
		candidate, ok := CanonicalAction(raw)
		if !ok {
			candidate = strings.ToLower(strings.TrimSpace(raw))
		}
		if candidate == action {
			return true
		}
	}
	return false
}

type fencedBlock struct {
	full string
	body string
}

// fencedBlocks scans for ```json and ```tool fences by hand rather than a
// regexp so unterminated fences never cause pathological backtracking.
func fencedBlocks(content string) []fencedBlock {
	var blocks []fencedBlock
	rest := content
	for {
		start, lang := nextFence(rest)
		if start < 0 {
			return blocks
		}
		bodyStart := start + len("```") + len(lang)
		end := strings.Index(rest[bodyStart:], "```")
		if end < 0 {
			return blocks
		}
		full := rest[start : bodyStart+end+len("```")]
		blocks = append(blocks, fencedBlock{full: full, body: rest[bodyStart : bodyStart+end]})
		rest = rest[bodyStart+end+len("```"):]
	}
}

func nextFence(s string) (int, string) {
	offset := 0
	for {
		idx := strings.Index(s[offset:], "```")
		if idx < 0 {
			return -1, ""
		}
		pos := offset + idx
		tail := s[pos+3:]
		for _, lang := range []string{"json", "tool"} {
			if hasFenceLang(tail, lang) {
				return pos, lang
			}
		}
		offset = pos + 3
	}
}

func hasFenceLang(tail, lang string) bool {
	if len(tail) < len(lang) {
		return false
	}
	if !strings.EqualFold(tail[:len(lang)], lang) {
		return false
	}
	rest := tail[len(lang):]
	return rest == "" || rest[0] == '\n' || rest[0] == '\r' || rest[0] == ' ' || rest[0] == '\t'
}

type parsedCommand struct {
	Command      agent.ToolCommand
	ParsedAction string
	ParsedParams json.RawMessage
	Reason       string
	Finished     bool
	// BareFinish marks a lone {"finished": true} object carrying no tool.
	BareFinish bool
}

func parseCommand(raw string, allowedTools []string) (parsedCommand, bool) {
	if strings.TrimSpace(raw) == "" {
		return parsedCommand{Reason: "empty fenced block"}, false
	}

	rawObj := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &rawObj); err != nil {
		return parsedCommand{Reason: "invalid json"}, false
	}

	var payload struct {
		Action   string `json:"action"`
		ToolName string `json:"tool_name"`
		Tool     string `json:"tool"`
		Finished bool   `json:"finished"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return parsedCommand{Reason: "invalid tool payload"}, false
	}

	name := firstNonEmpty(payload.Action, payload.ToolName, payload.Tool)
	if name == "" {
		if payload.Finished {
			return parsedCommand{Finished: true, BareFinish: true}, true
		}
		return parsedCommand{Reason: "missing action field"}, false
	}

	action, ok := CanonicalAction(name)
	if !ok {
		return parsedCommand{ParsedAction: strings.TrimSpace(name), Reason: "unsupported tool name"}, false
	}
	if !IsAllowed(action, allowedTools) {
		return parsedCommand{ParsedAction: action, Reason: "tool not in allowlist"}, false
	}

	params, reason := decodeParams(rawObj)
	if reason != "" {
		return parsedCommand{ParsedAction: action, Reason: reason}, false
	}

	finished := payload.Finished || signalsFinish(action, params)
	paramBytes, _ := json.Marshal(params)

	return parsedCommand{
		Command:      agent.ToolCommand{Action: action, Params: params, Finished: finished},
		ParsedAction: action,
		ParsedParams: paramBytes,
		Finished:     finished,
	}, true
}

func decodeParams(rawObj map[string]json.RawMessage) (map[string]any, string) {
	params := map[string]any{}
	for _, key := range []string{"params", "arguments"} {
		raw, ok := rawObj[key]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, "invalid " + key + " object"
		}
		return params, ""
	}
	return params, ""
}

// signalsFinish recognizes the thought tool announcing there is no next
// step, which ends the run the same way an explicit finished flag does.
func signalsFinish(action string, params map[string]any) bool {
	if action != "thought" {
		return false
	}
	next, _ := params["nextTool"].(string)
	return strings.EqualFold(strings.TrimSpace(next), tools.NextToolFinished)
}

// inlineCommand handles output that is a single unfenced JSON object, which
// some models emit despite instructions to fence tool calls.
func inlineCommand(content string, allowedTools []string) (parsedCommand, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return parsedCommand{}, false
	}
	return parseCommand(trimmed, allowedTools)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
