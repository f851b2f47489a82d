// Package audit appends one JSON object per line to a trail file. Every
// run, tool invocation, and human-feedback exchange leaves a record.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	EventRunStart         = "run.start"
	EventRunEnd           = "run.end"
	EventToolCall         = "tool.call"
	EventToolResult       = "tool.result"
	EventFeedbackRequest  = "feedback.request"
	EventFeedbackResponse = "feedback.response"
	EventFeedbackTimeout  = "feedback.timeout"
	EventFeedbackCancel   = "feedback.cancel"

	fileMode   = 0o600
	dirMode    = 0o755
	bufferSize = 32 * 1024
)

type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Logger is safe for concurrent use. Writes are buffered; run.end events
// force a sync so a finished run is always on disk.
type Logger struct {
	path   string
	redact func(map[string]any) map[string]any
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewLogger opens (or creates) the trail file in append mode. The redact
// hook, when non-nil, rewrites each event payload before it is written.
func NewLogger(path string, redact func(map[string]any) map[string]any) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, err
	}
	if redact == nil {
		redact = func(p map[string]any) map[string]any { return p }
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return nil, err
	}
	return &Logger{path: path, redact: redact, file: f, writer: bufio.NewWriterSize(f, bufferSize)}, nil
}

// LogEvent writes one event line. Known identity fields (run_id, tool,
// request_id) are lifted out of fields; everything else lands in payload.
func (l *Logger) LogEvent(ctx context.Context, eventType string, fields map[string]any) error {
	_ = ctx
	e := Event{Type: eventType, Timestamp: time.Now().UTC()}

	if len(fields) > 0 {
		if runID, ok := fields["run_id"].(string); ok {
			e.RunID = runID
		}
		if tool, ok := fields["tool"].(string); ok {
			e.Tool = tool
		}
		if requestID, ok := fields["request_id"].(string); ok {
			e.RequestID = requestID
		}
		payload := make(map[string]any)
		for k, v := range fields {
			if k == "run_id" || k == "tool" || k == "request_id" {
				continue
			}
			payload[k] = v
		}
		if len(payload) > 0 {
			e.Payload = l.redact(payload)
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil || l.writer == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
		if err != nil {
			return err
		}
		l.file = f
		l.writer = bufio.NewWriterSize(f, bufferSize)
	}

	if _, err := l.writer.Write(line); err != nil {
		return err
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if eventType == EventRunEnd {
		return l.file.Sync()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			_ = l.file.Close()
			l.file = nil
			l.writer = nil
			return err
		}
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		l.file = nil
		l.writer = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	l.writer = nil
	return err
}

// Nop returns an Auditor-shaped logger that discards events, for callers
// that run without a trail file.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, map[string]any) error { return nil }
