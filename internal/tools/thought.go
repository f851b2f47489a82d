package tools

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NextToolFinished is the sentinel a model puts in a thought's nextTool
// parameter to declare the task done.
const NextToolFinished = "finished"

func thoughtDescriptor() Descriptor {
	return Descriptor{
		Name:        "thought",
		Description: "Record intermediate reasoning without side effects",
		Params: map[string]ParamSpec{
			"thought":  {Type: "string", Description: "The reasoning to record", Required: true},
			"nextTool": {Type: "string", Description: "Tool the model intends to call next, or 'finished'"},
		},
	}
}

// thought never fails; it only leaves a log entry. Its nextTool value flows
// back in the result data so the continuation engine can read a completion
// signal from it.
func thought(_ context.Context, env Env, params map[string]any) Result {
	text, _ := stringArg(params, "thought")
	next, _ := stringArg(params, "nextTool")
	next = strings.TrimSpace(strings.ToLower(next))

	env.Log.Info("agent thought",
		zap.String("thought", text),
		zap.String("next_tool", next),
	)

	data := map[string]any{"thought": text}
	if next != "" {
		data["nextTool"] = next
	}
	return ok(data)
}
