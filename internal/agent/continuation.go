package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the continuation loop when the request does not
// override it.
const DefaultMaxIterations = 10

const (
	toolLimitNotice     = "\n\n*[Tool call limit reached. The task stopped before it could finish.]*"
	maxIterationsNotice = "\n\n*[Reached maximum iterations without a finished signal. The task stopped here.]*"

	continueInstruction = "Continue working on the task using the tool results above. " +
		"Call more tools if the task is not done. Only when the task is genuinely " +
		"complete, respond with a JSON object containing \"finished\": true."
)

// Engine is the task continuation loop. Iterations run strictly sequentially;
// each provider call and the tool executions it triggers complete before the
// next iteration starts.
type Engine struct {
	Provider      Provider
	Processor     Processor
	Executor      Executor
	Budget        *Budget
	MaxIterations int
	Log           *zap.Logger

	// OnIteration, when set, receives a snapshot after every iteration so
	// intermediate progress is observable regardless of final completion.
	OnIteration func(Snapshot)
}

// Request carries the task state the loop continues from.
type Request struct {
	Messages         []Message        // prior conversation
	AssistantContent string           // most recent assistant content
	InitialOutcomes  []CommandOutcome // tool results already produced by that content
	MaxIterations    int              // 0 means DefaultMaxIterations
}

// Snapshot is the per-iteration progress view handed to OnIteration.
type Snapshot struct {
	Iteration int
	Content   string
	Outcomes  []CommandOutcome
	Status    Status
}

// RunResult is the terminal outcome of ContinueUntilFinished.
type RunResult struct {
	Content                        string
	Outcomes                       []CommandOutcome
	Status                         Status
	Iterations                     int
	ProviderCalls                  int
	LimitReachedDuringContinuation bool
}

// ContinueUntilFinished drives model-call-plus-tool-execution cycles until a
// finished signal, the tool-call budget, or the iteration cap ends the task.
// All failures are encoded in the returned content and status; the method
// never propagates provider or tool errors to its caller.
func (e *Engine) ContinueUntilFinished(ctx context.Context, req Request) RunResult {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = e.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	res := RunResult{
		Content:  req.AssistantContent,
		Outcomes: append([]CommandOutcome(nil), req.InitialOutcomes...),
		Status:   StatusFinished,
	}

	finished := anyFinished(res.Outcomes)

	if !finished && e.Budget != nil && e.Budget.Exhausted() {
		res.Content += toolLimitNotice
		res.Status = StatusToolLimitReached
		res.LimitReachedDuringContinuation = true
		return res
	}

	for !finished && res.Iterations < maxIterations {
		res.Iterations++

		if e.Budget != nil && e.Budget.Exhausted() {
			res.Content += toolLimitNotice
			res.Status = StatusToolLimitReached
			res.LimitReachedDuringContinuation = true
			break
		}

		messages := e.buildContinuationMessages(req.Messages, res.Content, res.Outcomes)
		res.ProviderCalls++
		continuation, err := e.completeBuffered(ctx, messages)
		if err != nil {
			if isCancellation(err) {
				// An explicit abort is a clean stop, not a failure.
				log.Debug("continuation aborted", zap.Int("iteration", res.Iterations))
				finished = true
				break
			}
			log.Warn("continuation provider error", zap.Int("iteration", res.Iterations), zap.Error(err))
			res.Content += fmt.Sprintf("\n\n*[Error getting continuation: %v]*", err)
			e.notify(res, finished)
			continue
		}

		if strings.TrimSpace(continuation) == "" {
			// Nothing left to process.
			finished = true
			break
		}

		processed, procErr := e.Processor.Process(continuation, messages)
		if procErr != nil {
			// Unparseable output becomes final iteration text as-is.
			processed = Processed{Text: continuation}
		}

		if len(processed.Commands) == 0 {
			if text := strings.TrimSpace(processed.Text); text != "" {
				res.Content += "\n\n" + text
			}
			if processed.Finished || bareFinishedObject(continuation) {
				finished = true
			}
			e.notify(res, finished)
			continue
		}

		limitHit := false
		for _, cmd := range processed.Commands {
			if e.Budget != nil && !e.Budget.TryAcquire() {
				limitHit = true
				break
			}
			result := e.Executor.Execute(ctx, cmd)
			res.Outcomes = append(res.Outcomes, CommandOutcome{Command: cmd, Result: result})
			log.Debug("executed continuation tool",
				zap.String("action", cmd.Action),
				zap.Bool("success", result.Success),
			)
			if cmd.Finished {
				finished = true
			}
		}

		if text := strings.TrimSpace(processed.Text); text != "" {
			res.Content += "\n\n" + text
		}

		if limitHit {
			res.Content += toolLimitNotice
			res.Status = StatusToolLimitReached
			res.LimitReachedDuringContinuation = true
			e.notify(res, finished)
			break
		}
		e.notify(res, finished)
	}

	if !finished && res.Status == StatusFinished {
		// Loop left by the iteration cap.
		res.Content += maxIterationsNotice
		res.Status = StatusMaxIterations
	}
	return res
}

func (e *Engine) notify(res RunResult, finished bool) {
	if e.OnIteration == nil {
		return
	}
	status := res.Status
	if !finished && status == StatusFinished {
		status = "" // still running
	}
	e.OnIteration(Snapshot{
		Iteration: res.Iterations,
		Content:   res.Content,
		Outcomes:  append([]CommandOutcome(nil), res.Outcomes...),
		Status:    status,
	})
}

// buildContinuationMessages assembles the request for one more model call:
// prior history, the latest assistant content, a serialized tool-result
// message, and the continue instruction.
func (e *Engine) buildContinuationMessages(history []Message, assistantContent string, outcomes []CommandOutcome) []Message {
	messages := append([]Message(nil), history...)
	if strings.TrimSpace(assistantContent) != "" {
		messages = append(messages, Message{Role: "assistant", Content: assistantContent})
	}
	if len(outcomes) > 0 {
		messages = append(messages, Message{Role: "user", Content: "Tool results so far:\n" + serializeOutcomes(outcomes)})
	}
	messages = append(messages, Message{Role: "user", Content: continueInstruction})
	return messages
}

func (e *Engine) completeBuffered(ctx context.Context, messages []Message) (string, error) {
	var buf strings.Builder
	err := e.Provider.GetCompletion(ctx, messages, CompletionOptions{
		OnChunk: func(chunk string) { buf.WriteString(chunk) },
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func serializeOutcomes(outcomes []CommandOutcome) string {
	type line struct {
		Action  string `json:"action"`
		Success bool   `json:"success"`
		Data    any    `json:"data,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	lines := make([]line, 0, len(outcomes))
	for _, o := range outcomes {
		lines = append(lines, line{
			Action:  o.Command.Action,
			Success: o.Result.Success,
			Data:    o.Result.Data,
			Error:   o.Result.Error,
		})
	}
	b, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return fmt.Sprintf("%d tool results (unserializable)", len(outcomes))
	}
	return string(b)
}

// anyFinished checks the canonical finished signal on accumulated commands.
func anyFinished(outcomes []CommandOutcome) bool {
	for _, o := range outcomes {
		if o.Command.Finished {
			return true
		}
	}
	return false
}

// bareFinishedObject reports whether raw text is, syntactically, a lone JSON
// object carrying "finished": true.
func bareFinishedObject(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var payload struct {
		Finished bool `json:"finished"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return false
	}
	return payload.Finished
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
