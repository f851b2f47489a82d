package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"vaultagent/internal/agent"
	"vaultagent/internal/runstore"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptedProvider) GetCompletion(_ context.Context, _ []agent.Message, opts agent.CompletionOptions) error {
	p.mu.Lock()
	p.calls++
	idx := p.calls - 1
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	reply := p.replies[idx]
	p.mu.Unlock()

	opts.OnChunk(reply)
	return nil
}

func newInitializedEngine(t *testing.T, provider agent.Provider) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	engine, err := NewEngine(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Init(false); err != nil {
		t.Fatalf("init: %v", err)
	}
	engine.Provider = provider
	engine.Log = zap.NewNop()
	return engine, root
}

func TestEngineInitScaffolds(t *testing.T) {
	root := t.TempDir()
	engine, err := NewEngine(root)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.Init(false); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ".vaultagent", "config.json")); err != nil {
		t.Fatalf("expected config written: %v", err)
	}
	if info, err := os.Stat(filepath.Join(root, "vault")); err != nil || !info.IsDir() {
		t.Fatalf("expected vault dir: %v", err)
	}
}

func TestEngineExecuteWritesFileAndFinishes(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"Creating the note.\n```json\n{\"action\":\"write\",\"params\":{\"path\":\"notes/hello.md\",\"content\":\"# Hello\"}}\n```",
		"All done.\n```json\n{\"finished\": true}\n```",
	}}
	engine, root := newInitializedEngine(t, provider)

	res, err := engine.Execute(context.Background(), "create a hello note")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Status != string(agent.StatusFinished) {
		t.Fatalf("expected finished status, got %q", res.Status)
	}
	if res.ToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", res.ToolCalls)
	}

	data, err := os.ReadFile(filepath.Join(root, "vault", "notes", "hello.md"))
	if err != nil {
		t.Fatalf("expected written note: %v", err)
	}
	if string(data) != "# Hello" {
		t.Fatalf("unexpected note content: %q", data)
	}
	if !strings.Contains(res.Content, "All done.") {
		t.Fatalf("expected final text in content, got %q", res.Content)
	}
}

func TestEngineExecuteRecordsRunHistory(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"```json\n{\"action\":\"list\",\"params\":{\"path\":\".\"}}\n```",
		"```json\n{\"finished\": true}\n```",
	}}
	engine, root := newInitializedEngine(t, provider)

	res, err := engine.Execute(context.Background(), "what is in the vault?")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	store, err := runstore.Open(filepath.Join(root, ".vaultagent", "runs.db"))
	if err != nil {
		t.Fatalf("open run history: %v", err)
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != res.Status {
		t.Fatalf("history status %q != result status %q", run.Status, res.Status)
	}
	if len(run.Calls) != 1 || run.Calls[0].Tool != "list" {
		t.Fatalf("unexpected recorded calls: %#v", run.Calls)
	}
}

func TestEngineExecuteWritesAuditTrail(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"no tools needed here"}}
	engine, root := newInitializedEngine(t, provider)

	if _, err := engine.Execute(context.Background(), "say something"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, ".vaultagent", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit trail: %v", err)
	}
	trail := string(raw)
	if !strings.Contains(trail, "run.start") || !strings.Contains(trail, "run.end") {
		t.Fatalf("expected run events in trail, got %q", trail)
	}
}

func TestEngineExecuteRejectsEmptyMessage(t *testing.T) {
	engine, _ := newInitializedEngine(t, &scriptedProvider{replies: []string{"x"}})
	if _, err := engine.Execute(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty message")
	}
}

type scriptedPrompter struct {
	mu        sync.Mutex
	questions []string
	answer    string
}

func (p *scriptedPrompter) Prompt(_ context.Context, req PromptRequest, respond RespondFunc) {
	p.mu.Lock()
	p.questions = append(p.questions, req.Question)
	p.mu.Unlock()
	respond(p.answer, -1, true)
}

func TestEngineExecuteRoutesHumanFeedback(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"```json\n{\"action\":\"ask_human\",\"params\":{\"question\":\"Which folder?\"}}\n```",
		"Filed under projects.\n```json\n{\"finished\": true}\n```",
	}}
	prompter := &scriptedPrompter{answer: "projects"}
	engine, _ := newInitializedEngine(t, provider)
	engine.Prompter = prompter

	res, err := engine.Execute(context.Background(), "file this note where it belongs")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.Status != string(agent.StatusFinished) {
		t.Fatalf("expected finished status, got %q", res.Status)
	}
	prompter.mu.Lock()
	defer prompter.mu.Unlock()
	if len(prompter.questions) != 1 || prompter.questions[0] != "Which folder?" {
		t.Fatalf("expected the question to reach the prompter, got %#v", prompter.questions)
	}
}
