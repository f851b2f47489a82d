// Package tools implements the uniform tool contract and the builtin tool
// set. Every tool resolves paths through the sandbox validator and reports
// predictable failures as a failed Result, never as a Go error or panic.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"vaultagent/internal/sandbox"
	"vaultagent/internal/vault"
)

// ParamSpec describes one parameter in a tool's schema.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Descriptor is the immutable registration record for a tool.
type Descriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
}

// Result is the envelope every tool returns.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func fail(code ErrorCode, tool, format string, args ...any) Result {
	err := &ToolError{Code: code, Tool: tool, Message: fmt.Sprintf(format, args...)}
	return Result{Success: false, Error: err.Error()}
}

// Env carries the collaborator handles a tool may need. It is fixed at
// registry construction; tools receive it on every call.
type Env struct {
	Debug           bool
	Vault           vault.Vault
	Paths           *sandbox.Validator
	Log             *zap.Logger
	FeedbackTimeout time.Duration
}

// Handler executes one tool call.
type Handler func(ctx context.Context, env Env, params map[string]any) Result

// Auditor receives tool call/result events.
type Auditor interface {
	LogEvent(ctx context.Context, eventType string, fields map[string]any) error
}

type registryItem struct {
	desc    Descriptor
	handler Handler
}

// Registry maps tool names to handlers and enforces the shared contract:
// required-parameter validation before the handler runs, defaults filled in,
// and call/result events on the audit trail.
type Registry struct {
	env   Env
	audit Auditor
	mu    sync.RWMutex
	tools map[string]registryItem
}

func NewRegistry(env Env, audit Auditor) *Registry {
	if env.Log == nil {
		env.Log = zap.NewNop()
	}
	return &Registry{env: env, audit: audit, tools: make(map[string]registryItem)}
}

func (r *Registry) Register(desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return errors.New("tools: name is required")
	}
	if handler == nil {
		return errors.New("tools: handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tools: already registered: %s", desc.Name)
	}
	r.tools[desc.Name] = registryItem{desc: desc, handler: handler}
	return nil
}

// Descriptors returns the registered schemas sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, item := range r.tools {
		out = append(out, item.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs one tool call. Unknown tools and missing required parameters
// fail without touching storage.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) Result {
	if params == nil {
		params = map[string]any{}
	}
	r.emit(ctx, "tool.call", map[string]any{"tool": name, "params": params})

	r.mu.RLock()
	item, found := r.tools[name]
	r.mu.RUnlock()
	if !found {
		res := fail(ErrCodeNotFound, name, "tool not registered")
		r.emit(ctx, "tool.result", map[string]any{"tool": name, "error": res.Error})
		return res
	}

	for pname, spec := range item.desc.Params {
		if _, present := params[pname]; present {
			continue
		}
		if spec.Required {
			res := fail(ErrCodeInvalidInput, name, "missing required parameter: %s", pname)
			r.emit(ctx, "tool.result", map[string]any{"tool": name, "error": res.Error})
			return res
		}
		if spec.Default != nil {
			params[pname] = spec.Default
		}
	}

	res := item.handler(ctx, r.env, params)
	fields := map[string]any{"tool": name, "success": res.Success}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	r.emit(ctx, "tool.result", fields)
	return res
}

func (r *Registry) emit(ctx context.Context, eventType string, fields map[string]any) {
	if r.audit == nil {
		return
	}
	_ = r.audit.LogEvent(ctx, eventType, fields)
}
