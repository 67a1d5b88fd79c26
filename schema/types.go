package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Role tags the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UserRole identifies the kind of caller behind an answer request.
type UserRole string

const (
	UserRoleDoctor  UserRole = "doctor"
	UserRoleSubject UserRole = "subject"
)

// Session identifies a (subject, conversation) pair. Created on the first
// turn; this core never deletes sessions.
type Session struct {
	SubjectID      int       `json:"subject_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn is one question or answer in a conversation. Immutable once written.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Knowledge source names used on fragments and in cache keys.
const (
	SourceExpert   = "expert"
	SourcePersonal = "personal"
	SourceMemory   = "memory"
)

// TruncationMarker is appended wherever text was cut to fit a budget.
const TruncationMarker = "...[truncated]"

// TruncateAt cuts s to at most n bytes without splitting a UTF-8
// sequence.
func TruncateAt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Fragment is a retrieved knowledge passage. Priority is a small integer
// where lower means more authoritative; it is attached by the indexing side.
// Priority <= 0 means the passage carries no tag and is treated as rank 3.
type Fragment struct {
	Content  string  `json:"content"`
	Source   string  `json:"source"`
	Priority int     `json:"priority"`
	Score    float64 `json:"score"`
}

// File is the extracted content of one ingested file handle.
type File struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	Path    string `json:"path"`
}

// AnswerRequest is the single inbound contract of the orchestration core.
type AnswerRequest struct {
	Question       string    `json:"question"`
	SubjectID      int       `json:"subject_id"`
	ConversationID string    `json:"conversation_id"`
	UserRole       UserRole  `json:"user_role"`
	Timestamp      time.Time `json:"timestamp"`
	FileHandles    []string  `json:"file_handles,omitempty"`
}

// Session derives the session identity carried by the request.
func (r *AnswerRequest) Session() Session {
	return Session{
		SubjectID:      r.SubjectID,
		ConversationID: r.ConversationID,
		CreatedAt:      r.Timestamp,
	}
}

// Validate checks the identifiers a run cannot start without. It is the only
// failure class that short-circuits before any branch work is scheduled.
func (r *AnswerRequest) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(r.Question) == "" {
		errs = append(errs, ValidationError{
			Field:   "question",
			Message: "question must not be empty",
		})
	}

	if r.SubjectID <= 0 {
		errs = append(errs, ValidationError{
			Field:   "subject_id",
			Message: fmt.Sprintf("subject_id must be positive, got %d", r.SubjectID),
		})
	}

	if strings.TrimSpace(r.ConversationID) == "" {
		errs = append(errs, ValidationError{
			Field:   "conversation_id",
			Message: "conversation_id must not be empty",
		})
	}

	if r.UserRole != "" && r.UserRole != UserRoleDoctor && r.UserRole != UserRoleSubject {
		errs = append(errs, ValidationError{
			Field:   "user_role",
			Message: fmt.Sprintf("user_role must be %q or %q, got %q", UserRoleDoctor, UserRoleSubject, r.UserRole),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// AnswerResult is the single outbound contract. Err is empty when the run
// completed without degradation; a non-empty Err with a non-empty Answer
// means "degraded but answered".
type AnswerResult struct {
	Answer            string `json:"answer"`
	Err               string `json:"error,omitempty"`
	ContextLengthUsed int    `json:"context_length_used"`
}

// ValidationError reports one invalid field on a request or configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d validation error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Message))
	}
	return b.String()
}
