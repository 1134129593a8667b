package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn in a conversation. Messages are never mutated once
// appended to a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Citation is a reference surfaced to the API caller
type Citation struct {
	ChapterTitle   string  `json:"chapter_title"`
	DocURL         string  `json:"doc_url"`
	RelevanceScore float64 `json:"relevance_score"`
}

// SafetyVerdict is the guardrail's judgment of the latest user message
type SafetyVerdict struct {
	IsSafe     bool   `json:"is_safe"`
	IsRelevant bool   `json:"is_relevant"`
	Reason     string `json:"reason"`
}

// Passed reports whether the turn may proceed to answer generation
func (v SafetyVerdict) Passed() bool {
	return v.IsSafe && v.IsRelevant
}

const (
	// MaxMessageChars bounds the trimmed length of an inbound message
	MaxMessageChars = 2000
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidUserID reports whether id is a well-formed user identifier
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ChatRequest is the request to send a chat message
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// Normalize trims the message and validates every field, returning a
// classified validation error for the first problem found.
func (r *ChatRequest) Normalize() error {
	r.Message = strings.TrimSpace(r.Message)
	r.SessionID = strings.TrimSpace(r.SessionID)

	if r.Message == "" {
		return NewValidationError(CodeEmptyMessage, nil)
	}
	if utf8.RuneCountInString(r.Message) > MaxMessageChars {
		return NewValidationError(CodeMessageTooLong, map[string]any{
			"max_length": MaxMessageChars,
		})
	}
	if !ValidUserID(r.UserID) {
		return NewValidationError(CodeInvalidRequest, map[string]any{
			"field": "user_id",
		})
	}
	return nil
}

// ChatResponse is the response from a chat message
type ChatResponse struct {
	Response         string     `json:"response"`
	SessionID        string     `json:"session_id"`
	Citations        []Citation `json:"citations"`
	ConfidenceScore  *float64   `json:"confidence_score,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	TokenCount       int        `json:"token_count"`
}

// ErrorResponse is the body returned for any failed request
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// SessionSummary describes a live session without exposing its history
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	TokenCount   int       `json:"token_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Stats represents system statistics
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	SweptSessions  int64 `json:"swept_sessions"`
	EndedSessions  int64 `json:"ended_sessions"`
}

// Transcript is the archived record of a session that left the store
type Transcript struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Reason       string    `json:"reason"`
	TokenCount   int       `json:"token_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ArchivedAt   time.Time `json:"archived_at"`
	Messages     []Message `json:"messages"`
}
