// Package testutil provides fakes and helpers shared by the package tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/storage"
)

// TestLogger returns a logger that discards everything
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var handleSeq atomic.Int64

// RecordingHandle is a connection handle that decodes and keeps every frame
// it is sent. Set it full to make Send fail like a saturated connection.
type RecordingHandle struct {
	id       string
	identity auth.Identity

	mu     sync.Mutex
	frames []message.Envelope
	full   bool
}

// NewRecordingHandle creates a handle with a unique connection id
func NewRecordingHandle(identity auth.Identity) *RecordingHandle {
	return &RecordingHandle{id: fmt.Sprintf("conn-%d", handleSeq.Add(1)), identity: identity}
}

func (h *RecordingHandle) ID() string              { return h.id }
func (h *RecordingHandle) Identity() auth.Identity { return h.identity }

// Send records data. It panics on a frame that is not a valid envelope, since
// that is always a bug in the code under test.
func (h *RecordingHandle) Send(data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return false
	}
	var env message.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(fmt.Sprintf("invalid frame %q: %v", data, err))
	}
	h.frames = append(h.frames, env)
	return true
}

// SetFull makes subsequent sends fail (true) or succeed (false)
func (h *RecordingHandle) SetFull(full bool) {
	h.mu.Lock()
	h.full = full
	h.mu.Unlock()
}

// Frames returns every recorded frame
func (h *RecordingHandle) Frames() []message.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]message.Envelope(nil), h.frames...)
}

// Of returns the recorded frames of type t
func (h *RecordingHandle) Of(t message.EventType) []message.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []message.Envelope
	for _, f := range h.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// Types returns the types of the recorded frames in order
func (h *RecordingHandle) Types() []message.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]message.EventType, 0, len(h.frames))
	for _, f := range h.frames {
		out = append(out, f.Type)
	}
	return out
}

// Reset forgets the recorded frames
func (h *RecordingHandle) Reset() {
	h.mu.Lock()
	h.frames = nil
	h.mu.Unlock()
}

// LastError returns the error of the last error frame, failing the test when there is none
func (h *RecordingHandle) LastError(t *testing.T) *message.ErrorInfo {
	t.Helper()
	errs := h.Of(message.TypeError)
	require.NotEmpty(t, errs, "expected an error frame")
	return errs[len(errs)-1].Error
}

// Decode unmarshals the data of env into T
func Decode[T any](t *testing.T, env message.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// FakeArchive is an in-memory storage.Archive
type FakeArchive struct {
	mu    sync.Mutex
	saved []*storage.RoomDocument

	// Err is returned by every SaveRoom when set
	Err error
	// Block, when non-nil, holds SaveRoom until it is closed
	Block chan struct{}
}

// SaveRoom records doc
func (f *FakeArchive) SaveRoom(ctx context.Context, doc *storage.RoomDocument) error {
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.saved = append(f.saved, doc)
	return nil
}

// Saved returns the documents written so far
func (f *FakeArchive) Saved() []*storage.RoomDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*storage.RoomDocument(nil), f.saved...)
}

// FakeMailer records alert emails instead of sending them. It has the
// DialAndSend method of *gomail.Dialer.
type FakeMailer struct {
	mu   sync.Mutex
	sent []*gomail.Message

	Err error
}

// DialAndSend records m
func (f *FakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, m...)
	return nil
}

// Sent returns the messages recorded so far
func (f *FakeMailer) Sent() []*gomail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gomail.Message(nil), f.sent...)
}

// Published is one record captured by FakePublisher
type Published struct {
	Channel string
	Payload []byte
}

// FakePublisher records relay publishes
type FakePublisher struct {
	mu        sync.Mutex
	published []Published

	Err error
}

// Publish records payload on channel
func (f *FakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.published = append(f.published, Published{Channel: channel, Payload: append([]byte(nil), payload...)})
	return nil
}

// Records returns the publishes recorded so far
func (f *FakePublisher) Records() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.published...)
}

// Eventually waits for cond, failing the test after a second
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msgAndArgs...)
}

// AssertGoroutineCount fails when the goroutine count grew by more than a
// small tolerance, which usually means a pump or worker leaked
func AssertGoroutineCount(t *testing.T, before, after int, description string) {
	t.Helper()
	const tolerance = 5
	t.Logf("Goroutine count (%s): %d -> %d", description, before, after)
	assert.LessOrEqual(t, after-before, tolerance, "goroutine count should not increase significantly")
}

// MeasureGoroutines returns the goroutine count after letting exiting
// goroutines finish
func MeasureGoroutines() int {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	return runtime.NumGoroutine()
}
