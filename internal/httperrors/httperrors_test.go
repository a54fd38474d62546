package httperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/session"
)

func record(respond func(c *gin.Context)) (int, ErrorResponse, error) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respond(c)

	var body ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body, err
}

func TestResponders(t *testing.T) {
	tests := []struct {
		name    string
		respond func(c *gin.Context)
		status  int
		message string
		code    string
	}{
		{"unauthorized default", func(c *gin.Context) { RespondUnauthorized(c, "") }, 401, MsgUnauthorized, CodeUnauthorized},
		{"unauthorized header", func(c *gin.Context) { RespondUnauthorized(c, MsgInvalidAuthHeader) }, 401, MsgInvalidAuthHeader, CodeUnauthorized},
		{"invalid token", RespondInvalidToken, 401, MsgInvalidToken, CodeInvalidToken},
		{"forbidden", RespondForbidden, 403, MsgForbidden, CodeForbidden},
		{"bad request default", func(c *gin.Context) { RespondBadRequest(c, "") }, 400, MsgBadRequest, CodeBadRequest},
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "limit must be a positive integer") }, 400, "limit must be a positive integer", CodeBadRequest},
		{"internal", RespondInternalError, 500, MsgInternalError, CodeInternalError},
		{"unavailable default", func(c *gin.Context) { RespondServiceUnavailable(c, "") }, 503, MsgServiceUnavailable, CodeServiceUnavailable},
		{"archive disabled", func(c *gin.Context) { RespondServiceUnavailable(c, MsgArchiveDisabled) }, 503, MsgArchiveDisabled, CodeServiceUnavailable},
		{"not found default", func(c *gin.Context) { RespondNotFound(c, "") }, 404, MsgResourceNotFound, CodeNotFound},
		{"transcript not found", func(c *gin.Context) { RespondNotFound(c, MsgTranscriptNotFound) }, 404, MsgTranscriptNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, err := record(tt.respond)
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

// Client messages must not hint at the storage backend or a failure site
func TestMessagesAreGeneric(t *testing.T) {
	messages := []string{
		MsgUnauthorized, MsgInvalidToken, MsgInvalidAuthHeader, MsgForbidden, MsgInternalError,
		MsgServiceUnavailable, MsgResourceNotFound, MsgBadRequest, MsgTranscriptNotFound, MsgArchiveDisabled,
	}
	for _, msg := range messages {
		lower := strings.ToLower(msg)
		for _, leak := range []string{"mongo", "redis", "smtp", "panic", "stack", "nil pointer", "/internal/", "query"} {
			assert.NotContains(t, lower, leak, msg)
		}
	}
}

func TestRespondTooManyRequests(t *testing.T) {
	tests := []struct {
		retryAfterMs int
		header       string
	}{
		{0, "1"},
		{1, "1"},
		{1000, "1"},
		{1001, "2"},
		{59500, "60"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dms", tt.retryAfterMs), func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondTooManyRequests(c, tt.retryAfterMs)

			assert.Equal(t, 429, w.Code)
			assert.Equal(t, tt.header, w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), CodeTooManyRequests)
		})
	}
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"room not found", fmt.Errorf("%w: r1", session.ErrRoomNotFound), 404, "ROOM_NOT_FOUND"},
		{"not participant", session.ErrNotParticipant, 403, "NOT_PARTICIPANT"},
		{"forbidden", chaterrors.ErrForbidden("close rooms"), 403, "FORBIDDEN"},
		{"closed room", session.ErrRoomClosed, 409, "ROOM_CLOSED"},
		{"already claimed", session.ErrAlreadyClaimed, 409, "ALREADY_CLAIMED"},
		{"validation", chaterrors.ErrMissingField("roomId"), 400, "MISSING_FIELD"},
		{"rate limited", chaterrors.ErrTooManyRequests(500), 429, "TOO_MANY_REQUESTS"},
		{"internal", errors.New("mongo: socket closed at /internal/storage"), 500, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, err := record(func(c *gin.Context) { RespondDomainError(c, tt.err) })
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "/internal/")
			assert.NotContains(t, body.Error, "socket")
		})
	}
}
