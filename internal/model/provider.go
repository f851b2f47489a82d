// Package model is a chat-completions client for any OpenAI-compatible
// endpoint. It implements agent.Provider.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"vaultagent/internal/agent"
	"vaultagent/internal/config"
)

const (
	defaultRequestTimeout = 90 * time.Second
	maxAttempts           = 3
	retryBackoff          = 700 * time.Millisecond
	maxBackoff            = 5 * time.Second
	defaultMaxTokens      = 8192
)

type Client struct {
	baseURL     string
	apiKey      string
	modelName   string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient reads the API key from the configured environment variable.
// A missing key is an error here rather than at first use.
func NewClient(cfg config.ModelConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("model: base_url is required")
	}
	base = strings.TrimSuffix(base, "/chat/completions")

	apiKey := ""
	if env := strings.TrimSpace(cfg.APIKeyEnv); env != "" {
		apiKey = strings.TrimSpace(os.Getenv(env))
		if apiKey == "" {
			return nil, fmt.Errorf("model: API key env %s is not set", env)
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		baseURL:     base,
		apiKey:      apiKey,
		modelName:   cfg.Name,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

func (c *Client) ModelName() string { return c.modelName }

// GetCompletion implements agent.Provider. The reply is delivered through
// opts.OnChunk; thinking tags are stripped before delivery.
func (c *Client) GetCompletion(ctx context.Context, messages []agent.Message, opts agent.CompletionOptions) error {
	chatMessages := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = "user"
		}
		if role != "system" && role != "user" && role != "assistant" {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		chatMessages = append(chatMessages, map[string]string{"role": role, "content": content})
	}
	if len(chatMessages) == 0 {
		return errors.New("model: no messages to send")
	}

	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	body := map[string]any{
		"model":       c.modelName,
		"messages":    chatMessages,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error any `json:"error"`
	}
	statusCode, err := c.doWithRetry(ctx, raw, &payload)
	if err != nil {
		return err
	}
	if statusCode >= 300 {
		return fmt.Errorf("model: request failed: status=%d error=%v", statusCode, payload.Error)
	}
	if len(payload.Choices) == 0 {
		return errors.New("model: provider returned no choices")
	}

	content := stripThinkingTags(payload.Choices[0].Message.Content)
	if opts.OnChunk != nil && content != "" {
		opts.OnChunk(content)
	}
	return nil
}

func (c *Client) doWithRetry(ctx context.Context, raw []byte, payload any) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := ensureRequestTimeout(ctx, defaultRequestTimeout)
		statusCode, err := c.doOnce(attemptCtx, raw, payload)
		cancel()
		if err == nil {
			return statusCode, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == maxAttempts {
			return 0, err
		}

		backoff := retryBackoff
		if attempt > 1 {
			backoff = retryBackoff * time.Duration(1<<(attempt-1))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return 0, lastErr
	}
	return 0, errors.New("model: request failed")
}

func (c *Client) doOnce(ctx context.Context, raw []byte, payload any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return 0, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, fmt.Errorf("retryable provider status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "retryable provider status") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "unexpected eof")
}

func ensureRequestTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

var (
	thinkBlockRe  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	thinkMarkerRe = regexp.MustCompile(`(?i)</?think>`)
)

func stripThinkingTags(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = thinkMarkerRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
