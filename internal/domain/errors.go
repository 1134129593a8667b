package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ErrorKind groups error codes by how the caller should react
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindBlockedUnsafe        ErrorKind = "guardrail_unsafe"
	KindBlockedIrrelevant    ErrorKind = "guardrail_irrelevant"
	KindRetrievalUnavailable ErrorKind = "retrieval_unavailable"
	KindAgentUnavailable     ErrorKind = "agent_unavailable"
	KindRateLimited          ErrorKind = "rate_limited"
	KindNotFound             ErrorKind = "not_found"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindInternal             ErrorKind = "internal"
)

// Stable error codes returned to API callers
const (
	CodeEmptyMessage     = "ERR_VAL_001"
	CodeMessageTooLong   = "ERR_VAL_002"
	CodeInvalidRequest   = "ERR_VAL_003"
	CodeUnsafeContent    = "ERR_VAL_004"
	CodeIrrelevant       = "ERR_VAL_005"
	CodeSearchFailed     = "ERR_TOOL_001"
	CodeEmbeddingFailed  = "ERR_TOOL_002"
	CodeAgentUnavailable = "ERR_AGENT_001"
	CodeRateLimited      = "ERR_AGENT_002"
	CodeGenerationFailed = "ERR_AGENT_003"
	CodeSessionNotFound  = "ERR_SESSION_001"
	CodeUnauthorized     = "ERR_AUTH_001"
	CodeInternal         = "ERR_INTERNAL_001"
)

var userMessages = map[string]string{
	CodeEmptyMessage:     "Your message appears to be empty. Please ask a question.",
	CodeMessageTooLong:   "Your message is too long. Please keep it under 2000 characters.",
	CodeInvalidRequest:   "Invalid request format. Please check your input.",
	CodeUnsafeContent:    "Your question contains inappropriate content. Please rephrase.",
	CodeIrrelevant:       "I can only answer questions about the course textbook. Please ask about course content.",
	CodeSearchFailed:     "Could not retrieve textbook content. Please try again in a moment.",
	CodeEmbeddingFailed:  "Embedding service is temporarily unavailable. Please try again.",
	CodeAgentUnavailable: "The chatbot is temporarily unavailable. Please try again in a moment.",
	CodeRateLimited:      "We received too many requests. Please wait a moment and try again.",
	CodeGenerationFailed: "Failed to generate response. Please try again.",
	CodeSessionNotFound:  "Session not found.",
	CodeUnauthorized:     "Authentication required.",
	CodeInternal:         "An unexpected error occurred. Please try again later.",
}

// ChatError is a classified failure carrying a stable code. Message is safe
// to show to callers; Err holds the internal cause and is only logged.
type ChatError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Kind)
}

func (e *ChatError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed
func (e *ChatError) Retryable() bool {
	switch e.Kind {
	case KindRetrievalUnavailable, KindAgentUnavailable, KindRateLimited:
		return true
	}
	return false
}

// Response converts the error to its wire shape
func (e *ChatError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code, Details: e.Details}
}

func newChatError(kind ErrorKind, code string, status int, details map[string]any, cause error) *ChatError {
	return &ChatError{
		Kind:    kind,
		Code:    code,
		Message: userMessages[code],
		Status:  status,
		Details: details,
		Err:     cause,
	}
}

// NewValidationError reports a malformed or out-of-range request
func NewValidationError(code string, details map[string]any) *ChatError {
	status := http.StatusBadRequest
	if code == CodeInvalidRequest {
		status = http.StatusUnprocessableEntity
	}
	return newChatError(KindValidation, code, status, details, ErrInvalidRequest)
}

// NewBlockedError converts a failed verdict into the matching guardrail error
func NewBlockedError(v SafetyVerdict) *ChatError {
	if !v.IsSafe {
		return newChatError(KindBlockedUnsafe, CodeUnsafeContent, http.StatusBadRequest, nil, nil)
	}
	return newChatError(KindBlockedIrrelevant, CodeIrrelevant, http.StatusBadRequest, nil, nil)
}

// NewSearchError reports a vector index failure
func NewSearchError(cause error) *ChatError {
	return newChatError(KindRetrievalUnavailable, CodeSearchFailed, http.StatusServiceUnavailable, nil, cause)
}

// NewEmbeddingError reports an embedding service failure
func NewEmbeddingError(cause error) *ChatError {
	return newChatError(KindRetrievalUnavailable, CodeEmbeddingFailed, http.StatusServiceUnavailable, nil, cause)
}

// NewAgentError reports a model invocation failure or timeout
func NewAgentError(cause error) *ChatError {
	var details map[string]any
	if errors.Is(cause, context.DeadlineExceeded) {
		details = map[string]any{"timeout": true}
	}
	return newChatError(KindAgentUnavailable, CodeAgentUnavailable, http.StatusServiceUnavailable, details, cause)
}

// NewGenerationError reports a model call that succeeded without an answer
func NewGenerationError(cause error) *ChatError {
	return newChatError(KindAgentUnavailable, CodeGenerationFailed, http.StatusServiceUnavailable, nil, cause)
}

// NewRateLimitError tells the caller how long to back off
func NewRateLimitError(retryAfterSeconds int) *ChatError {
	return newChatError(KindRateLimited, CodeRateLimited, http.StatusTooManyRequests,
		map[string]any{"retry_after_seconds": retryAfterSeconds}, ErrRateLimited)
}

// NewSessionNotFoundError reports an unknown or foreign session
func NewSessionNotFoundError() *ChatError {
	return newChatError(KindNotFound, CodeSessionNotFound, http.StatusNotFound, nil, ErrNotFound)
}

// NewUnauthorizedError reports a missing or wrong admin credential
func NewUnauthorizedError() *ChatError {
	return newChatError(KindUnauthorized, CodeUnauthorized, http.StatusUnauthorized, nil, ErrUnauthorized)
}

// NewInternalError wraps an unclassified failure
func NewInternalError(cause error) *ChatError {
	return newChatError(KindInternal, CodeInternal, http.StatusInternalServerError, nil, cause)
}

// AsChatError returns err as a ChatError, classifying unknown errors as
// internal. It returns nil for a nil error.
func AsChatError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce
	}
	return NewInternalError(err)
}
