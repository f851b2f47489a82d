package tools

import "fmt"

// ErrorCode classifies predictable tool failures. Codes surface inside
// Result.Error strings; tools never panic on bad input.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "tool.not_found"
	ErrCodeInvalidInput ErrorCode = "tool.input_invalid"
	ErrCodePathDenied   ErrorCode = "path.denied"
	ErrCodeNodeMissing  ErrorCode = "node.not_found"
	ErrCodeConflict     ErrorCode = "node.conflict"
	ErrCodeExecution    ErrorCode = "internal.error"
)

// ToolError is the structured form behind every failed Result.
type ToolError struct {
	Code    ErrorCode
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
