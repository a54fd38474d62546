// Package httperrors provides generic error responses for HTTP endpoints.
// It ensures that internal implementation details are not leaked to clients.
package httperrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
)

// ErrorResponse is the body of every HTTP error answer
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Client-facing messages. None of them names a backend or a cause.
const (
	MsgUnauthorized       = "Authentication required"
	MsgInvalidToken       = "Invalid or expired authentication token"
	MsgInvalidAuthHeader  = "Invalid authorization header"
	MsgForbidden          = "Insufficient permissions"
	MsgInternalError      = "An internal error occurred"
	MsgServiceUnavailable = "Service temporarily unavailable"
	MsgResourceNotFound   = "Resource not found"
	MsgBadRequest         = "Bad request"
	MsgTranscriptNotFound = "Transcript not found"
	MsgArchiveDisabled    = "Transcript archive is not configured"
)

// Error codes for client-side handling
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
)

func respond(c *gin.Context, status int, message, fallback, code string) {
	if message == "" {
		message = fallback
	}
	c.JSON(status, ErrorResponse{Error: message, Code: code})
}

// RespondUnauthorized answers 401; an empty message uses MsgUnauthorized
func RespondUnauthorized(c *gin.Context, message string) {
	respond(c, http.StatusUnauthorized, message, MsgUnauthorized, CodeUnauthorized)
}

// RespondInvalidToken answers 401 for a token that failed validation
func RespondInvalidToken(c *gin.Context) {
	respond(c, http.StatusUnauthorized, MsgInvalidToken, "", CodeInvalidToken)
}

func RespondForbidden(c *gin.Context) {
	respond(c, http.StatusForbidden, MsgForbidden, "", CodeForbidden)
}

func RespondBadRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, message, MsgBadRequest, CodeBadRequest)
}

func RespondInternalError(c *gin.Context) {
	respond(c, http.StatusInternalServerError, MsgInternalError, "", CodeInternalError)
}

// RespondServiceUnavailable answers 503 for a backend that is down or not configured
func RespondServiceUnavailable(c *gin.Context, message string) {
	respond(c, http.StatusServiceUnavailable, message, MsgServiceUnavailable, CodeServiceUnavailable)
}

func RespondNotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, message, MsgResourceNotFound, CodeNotFound)
}

// RespondTooManyRequests sends a 429 response with a Retry-After header.
// retryAfterMs is rounded up to whole seconds.
func RespondTooManyRequests(c *gin.Context, retryAfterMs int) {
	seconds := (retryAfterMs + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
	seconds = max(seconds, constants.MinRetryAfterSeconds)
	c.Header(constants.HeaderRetryAfter, strconv.Itoa(seconds))
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error: constants.ErrMsgRateLimitExceeded,
		Code:  CodeTooManyRequests,
	})
}

// RespondDomainError answers with the status that matches a room operation
// failure. The chat error code is passed through; service failures get the
// generic internal error so their cause stays in the logs.
func RespondDomainError(c *gin.Context, err error) {
	chatErr := chaterrors.FromDomain(err)
	if chatErr.Category == chaterrors.CategoryService {
		RespondInternalError(c)
		return
	}
	c.JSON(statusFor(chatErr), ErrorResponse{
		Error: chatErr.Message,
		Code:  string(chatErr.Code),
	})
}

func statusFor(e *chaterrors.ChatError) int {
	switch e.Code {
	case chaterrors.ErrCodeRoomNotFound:
		return http.StatusNotFound
	case chaterrors.ErrCodeForbidden, chaterrors.ErrCodeNotParticipant:
		return http.StatusForbidden
	case chaterrors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case chaterrors.ErrCodeTooManyRequests, chaterrors.ErrCodeConnectionLimit:
		return http.StatusTooManyRequests
	}
	switch e.Category {
	case chaterrors.CategoryState:
		return http.StatusConflict
	case chaterrors.CategoryValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
