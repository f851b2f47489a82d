// Package runtime wires the agent together: config, sandbox, vault, tools,
// feedback, model provider, audit trail, and run history.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vaultagent/internal/agent"
	"vaultagent/internal/audit"
	"vaultagent/internal/config"
	"vaultagent/internal/feedback"
	"vaultagent/internal/model"
	"vaultagent/internal/runstore"
	"vaultagent/internal/sandbox"
	"vaultagent/internal/toolparse"
	"vaultagent/internal/tools"
	"vaultagent/internal/vault"
)

type Engine struct {
	rootDir string

	// Provider overrides the HTTP model client when set. Tests use this.
	Provider agent.Provider
	// Prompter renders ask_human questions. Nil leaves pending payloads
	// unintercepted.
	Prompter Prompter
	// Log overrides the config-derived logger when set.
	Log *zap.Logger
}

type RunResult struct {
	RunID      string
	Content    string
	Status     string
	Iterations int
	ToolCalls  int
	DurationMS int64
}

func NewEngine(rootDir string) (*Engine, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, errors.New("runtime: root dir is required")
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("runtime: resolve root: %w", err)
	}
	return &Engine{rootDir: absRoot}, nil
}

func (e *Engine) ConfigPath() string {
	return filepath.Join(e.rootDir, ".vaultagent", "config.json")
}

// Init scaffolds the vault directory and writes a default config. Existing
// files survive unless force is set.
func (e *Engine) Init(force bool) error {
	cfgPath := e.ConfigPath()
	cfg := config.Default()
	if !force {
		if loaded, err := config.LoadOrDefault(cfgPath); err == nil {
			cfg = loaded
		}
	}

	vaultRoot := e.resolveVaultRoot(cfg)
	if err := os.MkdirAll(vaultRoot, 0o755); err != nil {
		return fmt.Errorf("runtime: create vault root: %w", err)
	}

	if force || !fileExists(cfgPath) {
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("runtime: write config: %w", err)
		}
	}
	return nil
}

// Execute runs one task end to end: the initial model call, any tool
// commands it produces, and the continuation loop until a terminal status.
func (e *Engine) Execute(ctx context.Context, message string) (RunResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return RunResult{}, errors.New("runtime: message is required")
	}

	cfg, err := config.LoadOrDefault(e.ConfigPath())
	if err != nil {
		return RunResult{}, fmt.Errorf("runtime: load config: %w", err)
	}

	log := e.Log
	if log == nil {
		log = buildLogger(cfg.Debug)
		defer func() { _ = log.Sync() }()
	}

	var auditor tools.Auditor = audit.Nop{}
	if file := strings.TrimSpace(cfg.Audit.File); file != "" {
		trail, err := audit.NewLogger(config.ResolveRelative(e.ConfigPath(), file), nil)
		if err != nil {
			return RunResult{}, fmt.Errorf("runtime: init audit trail: %w", err)
		}
		defer func() { _ = trail.Close() }()
		auditor = trail
	}

	vaultRoot := e.resolveVaultRoot(cfg)
	if err := os.MkdirAll(vaultRoot, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("runtime: create vault root: %w", err)
	}
	paths, err := sandbox.NewValidator(vaultRoot)
	if err != nil {
		return RunResult{}, fmt.Errorf("runtime: init sandbox: %w", err)
	}
	store := vault.NewFS(paths)

	feedbackTimeout := time.Duration(cfg.Feedback.TimeoutMS) * time.Millisecond
	registry := tools.NewRegistry(tools.Env{
		Debug:           cfg.Debug,
		Vault:           store,
		Paths:           paths,
		Log:             log,
		FeedbackTimeout: feedbackTimeout,
	}, auditor)
	if err := tools.RegisterCore(registry); err != nil {
		return RunResult{}, fmt.Errorf("runtime: register tools: %w", err)
	}

	correlator := feedback.NewCorrelator()
	defer correlator.Close()

	provider := e.Provider
	if provider == nil {
		client, err := model.NewClient(cfg.Model)
		if err != nil {
			return RunResult{}, err
		}
		provider = client
	}

	executor := &registryExecutor{
		registry:   registry,
		correlator: correlator,
		prompter:   e.Prompter,
		audit:      auditor,
		log:        log,
		timeout:    feedbackTimeout,
	}

	runID := "run_" + uuid.NewString()
	start := time.Now().UTC()
	_ = auditor.LogEvent(ctx, audit.EventRunStart, map[string]any{"run_id": runID, "message": message})

	engine := &agent.Engine{
		Provider:      provider,
		Processor:     &toolparse.Parser{MaxCalls: cfg.Agent.MaxCallsPerReply},
		Executor:      executor,
		Budget:        agent.NewBudget(cfg.Agent.ToolCallLimit),
		MaxIterations: cfg.Agent.MaxIterations,
		Log:           log,
	}

	history := []agent.Message{
		{Role: "system", Content: buildSystemPrompt(vaultRoot, registry.Descriptors())},
		{Role: "user", Content: message},
	}

	content, outcomes := e.initialTurn(ctx, engine, executor, history, log)
	res := engine.ContinueUntilFinished(ctx, agent.Request{
		Messages:         history,
		AssistantContent: content,
		InitialOutcomes:  outcomes,
	})

	durationMS := time.Since(start).Milliseconds()
	_ = auditor.LogEvent(ctx, audit.EventRunEnd, map[string]any{
		"run_id":      runID,
		"status":      string(res.Status),
		"iterations":  res.Iterations,
		"tool_calls":  len(res.Outcomes),
		"duration_ms": durationMS,
	})

	if file := strings.TrimSpace(cfg.Agent.HistoryFile); file != "" {
		e.recordRun(ctx, config.ResolveRelative(e.ConfigPath(), file), runID, message, start, res, log)
	}

	return RunResult{
		RunID:      runID,
		Content:    res.Content,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		ToolCalls:  len(res.Outcomes),
		DurationMS: durationMS,
	}, nil
}

// initialTurn performs the first model call and executes its commands. A
// provider failure here is not fatal; the continuation loop reports it the
// same way it reports mid-run provider errors.
func (e *Engine) initialTurn(ctx context.Context, engine *agent.Engine, executor agent.Executor, history []agent.Message, log *zap.Logger) (string, []agent.CommandOutcome) {
	var content strings.Builder
	err := engine.Provider.GetCompletion(ctx, history, agent.CompletionOptions{
		OnChunk: func(chunk string) { content.WriteString(chunk) },
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return content.String(), nil
		}
		log.Warn("initial model call failed", zap.Error(err))
		return fmt.Sprintf("*[Error getting continuation: %v]*", err), nil
	}

	processed, procErr := engine.Processor.Process(content.String(), history)
	if procErr != nil {
		return content.String(), nil
	}

	outcomes := make([]agent.CommandOutcome, 0, len(processed.Commands))
	for _, cmd := range processed.Commands {
		if engine.Budget != nil && !engine.Budget.TryAcquire() {
			break
		}
		result := executor.Execute(ctx, cmd)
		outcomes = append(outcomes, agent.CommandOutcome{Command: cmd, Result: result})
	}
	if processed.Finished && len(outcomes) == 0 {
		// A bare finished signal on the first reply ends the run; mark it
		// through a synthetic finished outcome so the loop never starts.
		outcomes = append(outcomes, agent.CommandOutcome{
			Command: agent.ToolCommand{Finished: true},
			Result:  tools.Result{Success: true},
		})
	}
	return processed.Text, outcomes
}

func (e *Engine) recordRun(ctx context.Context, dbPath, runID, message string, start time.Time, res agent.RunResult, log *zap.Logger) {
	store, err := runstore.Open(dbPath)
	if err != nil {
		log.Warn("open run history failed", zap.Error(err))
		return
	}
	defer func() { _ = store.Close() }()

	calls := make([]runstore.ToolCall, 0, len(res.Outcomes))
	for i, outcome := range res.Outcomes {
		params, _ := json.Marshal(outcome.Command.Params)
		calls = append(calls, runstore.ToolCall{
			Ordinal:    i + 1,
			Tool:       outcome.Command.Action,
			ParamsJSON: string(params),
			Success:    outcome.Result.Success,
			Error:      outcome.Result.Error,
		})
	}
	err = store.SaveRun(ctx, runstore.Run{
		ID:         runID,
		Message:    message,
		Content:    res.Content,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		StartedAt:  start,
		EndedAt:    time.Now().UTC(),
		Calls:      calls,
	})
	if err != nil {
		log.Warn("save run history failed", zap.Error(err))
	}
}

func (e *Engine) resolveVaultRoot(cfg config.Config) string {
	root := cfg.Vault.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(e.rootDir, root)
	}
	return filepath.Clean(root)
}

func buildLogger(debug bool) *zap.Logger {
	if debug {
		log, err := zap.NewDevelopment()
		if err == nil {
			return log
		}
	}
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func buildSystemPrompt(vaultRoot string, descriptors []tools.Descriptor) string {
	var b strings.Builder
	b.WriteString("You are a vault assistant. You organize, read, and edit notes inside a single vault directory.\n\n")
	b.WriteString("Vault root: ")
	b.WriteString(vaultRoot)
	b.WriteString("\nAll paths are vault-relative. Paths outside the vault are rejected.\n\n")
	b.WriteString("## Tools\n")
	for _, desc := range descriptors {
		b.WriteString("- ")
		b.WriteString(desc.Name)
		b.WriteString(": ")
		b.WriteString(desc.Description)
		b.WriteString("\n")
	}
	b.WriteString("\nInvoke a tool with a fenced JSON block:\n")
	b.WriteString("```json\n{\"action\":\"list\",\"params\":{\"path\":\".\"}}\n```\n")
	b.WriteString("One tool call per block. When the task is complete, reply with:\n")
	b.WriteString("```json\n{\"finished\": true}\n```\n")
	return b.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
