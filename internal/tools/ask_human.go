package tools

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	FeedbackTypeText   = "text"
	FeedbackTypeChoice = "choice"

	// DefaultFeedbackTimeout applies when neither the call nor the
	// environment sets one.
	DefaultFeedbackTimeout = 5 * time.Minute
)

func askHumanDescriptor() Descriptor {
	return Descriptor{
		Name:        "ask_human",
		Description: "Ask the human a question and pause until they answer",
		Params: map[string]ParamSpec{
			"question":          {Type: "string", Description: "The question to present", Required: true},
			"type":              {Type: "string", Description: "'text' or 'choice'", Default: FeedbackTypeText},
			"choices":           {Type: "array", Description: "Options when type is 'choice'"},
			"timeout":           {Type: "number", Description: "Milliseconds to wait for an answer"},
			"allowCustomAnswer": {Type: "boolean", Description: "Permit a free-form answer on a choice question", Default: false},
			"placeholder":       {Type: "string", Description: "Input placeholder shown by the UI"},
		},
	}
}

// askHuman only validates and describes the request. It succeeds immediately
// with a pending payload; the pending registry entry is created later, by
// whoever renders the prompt, via feedback.Correlator.CreatePending. This
// tool touches no filesystem state.
func askHuman(_ context.Context, env Env, params map[string]any) Result {
	question, err := requiredString(params, "question")
	if err != nil {
		return fail(ErrCodeInvalidInput, "ask_human", "%v", err)
	}

	kind, _ := stringArg(params, "type")
	kind = strings.TrimSpace(strings.ToLower(kind))
	if kind == "" {
		kind = FeedbackTypeText
	}
	if kind != FeedbackTypeText && kind != FeedbackTypeChoice {
		return fail(ErrCodeInvalidInput, "ask_human", "unknown feedback type: %s", kind)
	}

	choices := stringSliceArg(params, "choices")
	if kind == FeedbackTypeChoice && len(choices) == 0 {
		return fail(ErrCodeInvalidInput, "ask_human", "choice questions need a non-empty choices list")
	}

	timeout := env.FeedbackTimeout
	if timeout <= 0 {
		timeout = DefaultFeedbackTimeout
	}
	if ms := intArg(params, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	data := map[string]any{
		"requestId":         uuid.NewString(),
		"status":            "pending",
		"question":          question,
		"type":              kind,
		"timeout":           timeout.Milliseconds(),
		"allowCustomAnswer": boolArg(params, "allowCustomAnswer", false),
		"startTime":         time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(choices) > 0 {
		data["choices"] = choices
	}
	if placeholder, present := stringArg(params, "placeholder"); present && placeholder != "" {
		data["placeholder"] = placeholder
	}
	return ok(data)
}
