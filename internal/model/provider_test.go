package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"vaultagent/internal/agent"
	"vaultagent/internal/config"
)

type requestCapture struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.ModelConfig{
		BaseURL:     baseURL,
		Name:        "test-model",
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientSendsChatCompletionRequest(t *testing.T) {
	var captured requestCapture

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]string{"content": "Hello there."}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var got string
	err := client.GetCompletion(context.Background(), []agent.Message{
		{Role: "system", Content: "Be brief."},
		{Role: "user", Content: "Say hello."},
	}, agent.CompletionOptions{OnChunk: func(chunk string) { got += chunk }})
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}

	if got != "Hello there." {
		t.Fatalf("unexpected content: %q", got)
	}
	if captured.Model != "test-model" || captured.MaxTokens != 512 {
		t.Fatalf("unexpected request body: %#v", captured)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %#v", captured.Messages)
	}
}

func TestClientStripsThinkingTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]string{
					"content": "<think>private deliberation</think>The file is empty.",
				}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var got string
	err := client.GetCompletion(context.Background(), []agent.Message{{Role: "user", Content: "check"}},
		agent.CompletionOptions{OnChunk: func(chunk string) { got += chunk }})
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if got != "The file is empty." {
		t.Fatalf("thinking tags should be stripped, got %q", got)
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "overloaded"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	var got string
	err := client.GetCompletion(context.Background(), []agent.Message{{Role: "user", Content: "hi"}},
		agent.CompletionOptions{OnChunk: func(chunk string) { got += chunk }})
	if err != nil {
		t.Fatalf("get completion: %v", err)
	}
	if got != "ok" {
		t.Fatalf("unexpected content after retry: %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestClientErrorOnNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	err := client.GetCompletion(context.Background(), []agent.Message{{Role: "user", Content: "hi"}}, agent.CompletionOptions{})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected no-choices error, got %v", err)
	}
}

func TestClientErrorOnClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "bad key"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	err := client.GetCompletion(context.Background(), []agent.Message{{Role: "user", Content: "hi"}}, agent.CompletionOptions{})
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewClientRequiresAPIKeyEnvWhenSet(t *testing.T) {
	t.Setenv("VAULTAGENT_TEST_KEY", "")
	_, err := NewClient(config.ModelConfig{
		BaseURL:   "https://api.example.com/v1",
		APIKeyEnv: "VAULTAGENT_TEST_KEY",
		Name:      "m",
	})
	if err == nil || !strings.Contains(err.Error(), "VAULTAGENT_TEST_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}
