// Package agent drives the continue-until-finished loop: repeated completion
// calls plus tool execution under hard iteration and tool-call budgets.
package agent

import (
	"context"
	"sync"

	"vaultagent/internal/tools"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCommand is a single tool invocation extracted from model output.
// Finished is a terminal signal from the model, independent of whether the
// tool itself succeeded.
type ToolCommand struct {
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Finished bool           `json:"finished,omitempty"`
}

// CommandOutcome pairs an executed command with its result.
type CommandOutcome struct {
	Command ToolCommand  `json:"command"`
	Result  tools.Result `json:"result"`
}

// CompletionOptions mirror the completion-provider collaborator contract:
// chunks arrive through OnChunk zero or more times; a buffered caller
// accumulates them itself.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	OnChunk     func(chunk string)
}

// Provider is the language-model completion collaborator.
type Provider interface {
	GetCompletion(ctx context.Context, messages []Message, opts CompletionOptions) error
}

// Processed is what the response processor extracts from raw model output.
type Processed struct {
	Text     string        // cleaned display text
	Commands []ToolCommand // extracted invocations, in order
	HasTools bool
	Finished bool // bare {"finished": true} object with no tool calls
}

// Processor is the model-output processing collaborator.
type Processor interface {
	Process(raw string, history []Message) (Processed, error)
}

// Executor runs one extracted command through the tool set.
type Executor interface {
	Execute(ctx context.Context, cmd ToolCommand) tools.Result
}

// Status is the terminal state of a continuation run.
type Status string

const (
	StatusFinished         Status = "finished"
	StatusToolLimitReached Status = "tool_limit_reached"
	StatusMaxIterations    Status = "max_iterations_reached"
)

// Budget is the shared tool-call allowance for one task run. It is mutated
// only from the engine loop but kept safe for observation from elsewhere.
type Budget struct {
	mu   sync.Mutex
	used int
	max  int
}

// NewBudget creates a budget of max calls; max <= 0 means unlimited.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// TryAcquire consumes one call slot, reporting false when none remain.
func (b *Budget) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Exhausted reports whether no slots remain.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max > 0 && b.used >= b.max
}

// Used returns the number of consumed slots.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
