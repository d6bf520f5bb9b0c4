package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Engine error codes
const (
	// ErrEmbeddingUnavailable 嵌入提供者失败或超时，写入已中止，调用方可重试。
	ErrEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"

	// ErrStorage 持久化 I/O 失败，写入已中止，调用方可重试。
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// ErrInvalidInput 输入格式错误或缺少必填字段，对单次调用致命。
	ErrInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrEngineClosed 引擎已关闭，不再接受操作。
	ErrEngineClosed ErrorCode = "ENGINE_CLOSED"

	// ErrNotLoaded 图谱镜像尚未从持久层加载（必须先调用 LoadAll）。
	ErrNotLoaded ErrorCode = "GRAPH_NOT_LOADED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
