package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/session"
)

func testService(t *testing.T, key []byte) *StorageService {
	t.Helper()
	gcm, err := newGCM(key)
	require.NoError(t, err)
	return &StorageService{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		gcm:    gcm,
		retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     4 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func closedRoom() (session.RoomView, []session.Message) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	room := session.RoomView{
		ID:             "room-1",
		CustomerID:     "guest:abcdef12",
		CustomerName:   "Visitor",
		IsGuest:        true,
		AgentID:        "agent-1",
		AgentName:      "Ann",
		Department:     "billing",
		OrganizationID: "org-1",
		State:          session.StateClosed,
		CreatedAt:      created,
		ClosedAt:       created.Add(10 * time.Minute),
		ClosedBy:       "agent-1",
		LastMessageID:  2,
	}
	history := []session.Message{
		{ID: 1, RoomID: "room-1", SenderID: "guest:abcdef12", SenderRole: auth.RoleCustomer, SenderName: "Visitor", Body: "hi", Timestamp: created.Add(time.Minute)},
		{ID: 2, RoomID: "room-1", SenderID: "agent-1", SenderRole: auth.RoleAgent, SenderName: "Ann", Body: "hello", Timestamp: created.Add(2 * time.Minute)},
	}
	return room, history
}

func TestNewRoomDocument(t *testing.T) {
	room, history := closedRoom()
	doc := NewRoomDocument(room, session.StateActive, history)

	assert.Equal(t, "room-1", doc.ID)
	assert.Equal(t, "guest:abcdef12", doc.CustomerID)
	assert.True(t, doc.IsGuest)
	assert.Equal(t, "agent-1", doc.AgentID)
	assert.Equal(t, "org-1", doc.OrganizationID)
	assert.Equal(t, "closed", doc.State)
	assert.Equal(t, "active", doc.PreviousState)
	assert.Equal(t, room.ClosedAt, doc.ClosedAt)
	assert.Equal(t, 2, doc.MessageCount)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, int64(1), doc.Messages[0].ID)
	assert.Equal(t, "customer", doc.Messages[0].SenderRole)
	assert.Equal(t, "hello", doc.Messages[1].Body)
	assert.False(t, doc.Encrypted)
}

func TestSealAndOpenDocument(t *testing.T) {
	room, history := closedRoom()
	doc := NewRoomDocument(room, session.StateActive, history)

	t.Run("encrypted copy leaves the original alone", func(t *testing.T) {
		s := testService(t, testKey)
		stored, err := s.sealDocument(doc)
		require.NoError(t, err)

		assert.True(t, stored.Encrypted)
		assert.NotEqual(t, "hi", stored.Messages[0].Body)
		assert.Equal(t, "hi", doc.Messages[0].Body)
		assert.False(t, doc.Encrypted)

		require.NoError(t, s.openDocument(stored))
		assert.Equal(t, "hi", stored.Messages[0].Body)
		assert.Equal(t, "hello", stored.Messages[1].Body)
		assert.False(t, stored.Encrypted)
	})

	t.Run("without a key bodies are stored in clear", func(t *testing.T) {
		s := testService(t, nil)
		stored, err := s.sealDocument(doc)
		require.NoError(t, err)
		assert.False(t, stored.Encrypted)
		assert.Equal(t, "hi", stored.Messages[0].Body)
		require.NoError(t, s.openDocument(stored))
	})

	t.Run("encrypted document needs the key", func(t *testing.T) {
		stored, err := testService(t, testKey).sealDocument(doc)
		require.NoError(t, err)
		err = testService(t, nil).openDocument(stored)
		assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
	})
}

func TestSaveRoomRejectsInvalidDocuments(t *testing.T) {
	s := testService(t, nil)
	assert.ErrorIs(t, s.SaveRoom(context.Background(), nil), ErrInvalidRoom)
	assert.ErrorIs(t, s.SaveRoom(context.Background(), &RoomDocument{}), ErrInvalidRoomID)

	_, err := s.GetTranscript(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("duplicate key error"), false},
		{context.Canceled, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("server selection timeout"), true},
		{errors.New("no reachable servers"), true},
		{fmt.Errorf("wrapped: %w", io.EOF), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}

func TestRetryOperation(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		s := testService(t, nil)
		calls := 0
		err := s.retryOperation(context.Background(), "test", func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		s := testService(t, nil)
		calls := 0
		err := s.retryOperation(context.Background(), "test", func() error {
			calls++
			return errors.New("i/o timeout")
		})
		assert.ErrorContains(t, err, "operation failed after 3 attempts")
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		s := testService(t, nil)
		calls := 0
		permanent := errors.New("document failed validation")
		err := s.retryOperation(context.Background(), "test", func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		s := testService(t, nil)
		s.retry.InitialDelay = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := s.retryOperation(ctx, "test", func() error {
			calls++
			cancel()
			return errors.New("connection reset")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
