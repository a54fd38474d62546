// Package errors defines the wire-facing error type of the chat gateway and the
// mapping from domain errors to error codes.
package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/session"
)

// ErrorCategory groups error codes
type ErrorCategory string

const (
	// CategoryAuth covers authentication and authorization failures
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation covers malformed or incomplete client input
	CategoryValidation ErrorCategory = "validation"
	// CategoryState covers requests that conflict with a room's lifecycle
	CategoryState ErrorCategory = "state"
	// CategoryService covers internal failures
	CategoryService ErrorCategory = "service"
	// CategoryRateLimit covers throttled requests
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode is the machine readable code sent in error frames
type ErrorCode string

const (
	// Authentication errors
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"

	// Validation errors
	ErrCodeInvalidFormat    ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField     ErrorCode = "MISSING_FIELD"
	ErrCodeUnknownEvent     ErrorCode = "UNKNOWN_EVENT"
	ErrCodeAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE"

	// Room lifecycle errors
	ErrCodeDuplicateActiveSession ErrorCode = "DUPLICATE_ACTIVE_SESSION"
	ErrCodeAlreadyClaimed         ErrorCode = "ALREADY_CLAIMED"
	ErrCodeRoomNotFound           ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomClosed             ErrorCode = "ROOM_CLOSED"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeNotParticipant         ErrorCode = "NOT_PARTICIPANT"

	// Service errors
	ErrCodeServiceError ErrorCode = "SERVICE_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// ChatError is an error that can be reported to a client as an error frame
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, rate limit errors only
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether the connection should be closed after reporting e
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts e to its wire form
func (e *ChatError) ToErrorInfo() *message.ErrorInfo {
	return &message.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

func newError(category ErrorCategory, code ErrorCode, msg string, recoverable bool, cause error) *ChatError {
	return &ChatError{
		Category:    category,
		Code:        code,
		Message:     msg,
		Recoverable: recoverable,
		Cause:       cause,
	}
}

// NewAuthError creates an authentication error. Authentication failures are fatal.
func NewAuthError(code ErrorCode, msg string, cause error) *ChatError {
	return newError(CategoryAuth, code, msg, false, cause)
}

// NewValidationError creates a recoverable validation error
func NewValidationError(code ErrorCode, msg string, cause error) *ChatError {
	return newError(CategoryValidation, code, msg, true, cause)
}

// NewStateError creates a recoverable room lifecycle error
func NewStateError(code ErrorCode, msg string, cause error) *ChatError {
	return newError(CategoryState, code, msg, true, cause)
}

// NewServiceError creates a recoverable internal error
func NewServiceError(code ErrorCode, msg string, cause error) *ChatError {
	return newError(CategoryService, code, msg, true, cause)
}

// NewRateLimitError creates a rate limit error carrying a retry hint
func NewRateLimitError(code ErrorCode, msg string, retryAfter int, cause error) *ChatError {
	e := newError(CategoryRateLimit, code, msg, true, cause)
	e.RetryAfter = retryAfter
	return e
}

// ErrUnauthenticated creates an authentication failure error
func ErrUnauthenticated(cause error) *ChatError {
	return NewAuthError(ErrCodeUnauthenticated, "Authentication required", cause)
}

// ErrForbidden reports a role that may not perform the requested event.
// The connection stays open, so unlike other auth errors it is recoverable.
func ErrForbidden(action string) *ChatError {
	e := NewAuthError(ErrCodeForbidden, fmt.Sprintf("Not allowed to %s", action), nil)
	e.Recoverable = true
	return e
}

// ErrInvalidMessageFormat creates an invalid format error
func ErrInvalidMessageFormat(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeInvalidFormat, fmt.Sprintf("Invalid message format: %s", details), cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrUnknownEvent creates an error for an event type the gateway does not handle
func ErrUnknownEvent(eventType string) *ChatError {
	return NewValidationError(ErrCodeUnknownEvent, fmt.Sprintf("Unknown event type: %s", eventType), nil)
}

// ErrAgentUnavailable reports a transfer target that is not a connected staff member
func ErrAgentUnavailable(agentID string) *ChatError {
	return NewValidationError(ErrCodeAgentUnavailable, fmt.Sprintf("Agent %s is not available", agentID), nil)
}

// ErrServiceError wraps an unexpected internal failure
func ErrServiceError(cause error) *ChatError {
	return NewServiceError(ErrCodeServiceError, "Internal error, please retry", cause)
}

// ErrTooManyRequests creates a rate limit error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests, "Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit error
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeConnectionLimit, "Connection limit exceeded, please try again later", retryAfter, nil)
}

// domainCodes maps Room Store sentinels to wire codes and client-facing text.
var domainCodes = []struct {
	sentinel error
	code     ErrorCode
	message  string
}{
	{session.ErrDuplicateActiveSession, ErrCodeDuplicateActiveSession, "You already have an open chat"},
	{session.ErrAlreadyClaimed, ErrCodeAlreadyClaimed, "This chat was already accepted by another agent"},
	{session.ErrRoomNotFound, ErrCodeRoomNotFound, "Chat not found"},
	{session.ErrRoomClosed, ErrCodeRoomClosed, "This chat has been closed"},
	{session.ErrInvalidTransition, ErrCodeInvalidTransition, "This action is not possible in the chat's current state"},
	{session.ErrNotParticipant, ErrCodeNotParticipant, "You are not a participant of this chat"},
}

// FromDomain converts any error returned by the gateway's collaborators into a
// ChatError. A ChatError passes through unchanged; unknown errors become
// SERVICE_ERROR so no internal detail reaches the client.
func FromDomain(err error) *ChatError {
	if err == nil {
		return nil
	}

	var chatErr *ChatError
	if stderrors.As(err, &chatErr) {
		return chatErr
	}

	for _, dc := range domainCodes {
		if stderrors.Is(err, dc.sentinel) {
			return NewStateError(dc.code, dc.message, err)
		}
	}

	if stderrors.Is(err, auth.ErrUnauthenticated) {
		return ErrUnauthenticated(err)
	}

	return ErrServiceError(err)
}
