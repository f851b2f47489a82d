package runtime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vaultagent/internal/agent"
	"vaultagent/internal/audit"
	"vaultagent/internal/feedback"
	"vaultagent/internal/tools"
)

// PromptRequest is what a Prompter renders to the human.
type PromptRequest struct {
	RequestID   string
	Question    string
	Type        string
	Choices     []string
	AllowCustom bool
	Placeholder string
	Timeout     time.Duration
}

// RespondFunc delivers the human's answer for one prompt. It reports false
// when the request already settled (timeout, cancellation, or a prior
// answer), in which case the answer is discarded.
type RespondFunc func(answer string, choiceIndex int, isCustomAnswer bool) bool

// Prompter shows a question to the human. Implementations may answer from
// any goroutine via respond; blocking inside Prompt is allowed but not
// required.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest, respond RespondFunc)
}

// registryExecutor runs tool commands against the registry. ask_human
// pending payloads are intercepted: the prompt is rendered, the pending
// entry registered, and the command blocks until the human answers, the
// timeout fires, or the run is cancelled.
type registryExecutor struct {
	registry   *tools.Registry
	correlator *feedback.Correlator
	prompter   Prompter
	audit      tools.Auditor
	log        *zap.Logger
	timeout    time.Duration
}

func (r *registryExecutor) Execute(ctx context.Context, cmd agent.ToolCommand) tools.Result {
	result := r.registry.Execute(ctx, cmd.Action, cmd.Params)
	if cmd.Action != "ask_human" || !result.Success || r.prompter == nil {
		return result
	}
	return r.awaitAnswer(ctx, result)
}

func (r *registryExecutor) awaitAnswer(ctx context.Context, pending tools.Result) tools.Result {
	data, ok := pending.Data.(map[string]any)
	if !ok || data["status"] != "pending" {
		return pending
	}
	requestID, _ := data["requestId"].(string)
	if requestID == "" {
		return pending
	}

	timeout := r.timeout
	if ms, ok := data["timeout"].(int64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = tools.DefaultFeedbackTimeout
	}

	question, _ := data["question"].(string)
	kind, _ := data["type"].(string)
	choices, _ := data["choices"].([]string)
	allowCustom, _ := data["allowCustomAnswer"].(bool)
	placeholder, _ := data["placeholder"].(string)

	_ = r.audit.LogEvent(ctx, audit.EventFeedbackRequest, map[string]any{
		"request_id": requestID,
		"tool":       "ask_human",
		"question":   question,
		"timeout_ms": timeout.Milliseconds(),
	})

	// The pending entry must exist before the prompt renders; a prompter
	// that answers synchronously would otherwise race the registration.
	done, err := r.correlator.CreatePending(requestID, timeout)
	if err != nil {
		return tools.Result{Success: false, Error: err.Error()}
	}
	respond := func(answer string, choiceIndex int, isCustomAnswer bool) bool {
		return r.correlator.HandleUserResponse(requestID, answer, choiceIndex, isCustomAnswer)
	}
	go r.prompter.Prompt(ctx, PromptRequest{
		RequestID:   requestID,
		Question:    question,
		Type:        kind,
		Choices:     choices,
		AllowCustom: allowCustom,
		Placeholder: placeholder,
		Timeout:     timeout,
	}, respond)

	var out feedback.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		r.correlator.Cancel(requestID)
		out = <-done
	}
	resp, err := out.Response, out.Err
	if err != nil {
		switch {
		case errors.Is(err, feedback.ErrTimeout):
			_ = r.audit.LogEvent(ctx, audit.EventFeedbackTimeout, map[string]any{"request_id": requestID, "tool": "ask_human"})
		case errors.Is(err, feedback.ErrCancelled), errors.Is(err, feedback.ErrClosed):
			_ = r.audit.LogEvent(ctx, audit.EventFeedbackCancel, map[string]any{"request_id": requestID, "tool": "ask_human"})
		}
		r.log.Debug("human feedback unresolved", zap.String("request_id", requestID), zap.Error(err))
		return tools.Result{Success: false, Error: err.Error()}
	}

	_ = r.audit.LogEvent(ctx, audit.EventFeedbackResponse, map[string]any{
		"request_id":       requestID,
		"tool":             "ask_human",
		"is_custom_answer": resp.IsCustomAnswer,
		"response_time_ms": resp.ResponseTime.Milliseconds(),
	})

	answered := map[string]any{
		"requestId":      requestID,
		"status":         "answered",
		"question":       question,
		"answer":         resp.Answer,
		"choiceIndex":    resp.ChoiceIndex,
		"isCustomAnswer": resp.IsCustomAnswer,
		"responseTimeMs": resp.ResponseTime.Milliseconds(),
	}
	return tools.Result{Success: true, Data: answered}
}
