// Package ratelimit limits concurrent connections per participant and the
// rate of events per key with a sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/real-rm/supportchat/internal/constants"
)

// ConnectionLimiter caps the live connections of each participant
type ConnectionLimiter struct {
	connections map[string]int
	maxPerUser  int
	mu          sync.Mutex
}

// NewConnectionLimiter creates a limiter allowing maxPerUser connections per participant
func NewConnectionLimiter(maxPerUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerUser:  maxPerUser,
	}
}

// Allow reserves a connection slot for participantID. Every true result must
// be paired with a Release.
func (cl *ConnectionLimiter) Allow(participantID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[participantID]
	if count >= cl.maxPerUser {
		return false
	}
	if count == 0 && len(cl.connections) >= constants.MaxUsersTracked {
		return false
	}
	cl.connections[participantID] = count + 1
	return true
}

// Release frees a slot reserved by Allow
func (cl *ConnectionLimiter) Release(participantID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count, ok := cl.connections[participantID]
	if !ok {
		return
	}
	if count <= 1 {
		delete(cl.connections, participantID)
		return
	}
	cl.connections[participantID] = count - 1
}

// GetCount returns the number of reserved slots for participantID
func (cl *ConnectionLimiter) GetCount(participantID string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connections[participantID]
}

// MessageLimiter allows at most limit events per key within any window
type MessageLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	now    func() time.Time
	mu     sync.Mutex

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// NewMessageLimiter creates a sliding window limiter
func NewMessageLimiter(window time.Duration, limit int) *MessageLimiter {
	return &MessageLimiter{
		events:          make(map[string][]time.Time),
		window:          window,
		limit:           limit,
		now:             time.Now,
		cleanupInterval: window,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow records an event for key and reports whether it is within the limit.
// Rejected events are not recorded.
func (ml *MessageLimiter) Allow(key string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	recent := ml.recentLocked(key, now)
	if len(recent) >= ml.limit {
		ml.events[key] = recent
		return false
	}
	if _, tracked := ml.events[key]; !tracked && len(ml.events) >= constants.MaxUsersTracked {
		return false
	}
	ml.events[key] = append(recent, now)
	return true
}

// GetRetryAfter returns the milliseconds until key may send again, 0 if it may now
func (ml *MessageLimiter) GetRetryAfter(key string) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	recent := ml.recentLocked(key, now)
	if len(recent) < ml.limit {
		return 0
	}
	// recent is in insertion order, so the first entry expires first
	wait := recent[0].Add(ml.window).Sub(now)
	if wait <= 0 {
		return 0
	}
	return max(int(wait.Milliseconds()), 1)
}

// recentLocked returns the events of key inside the window ending at now
func (ml *MessageLimiter) recentLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-ml.window)
	events := ml.events[key]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

// Reset forgets the history of key
func (ml *MessageLimiter) Reset(key string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.events, key)
}

// Cleanup drops expired events and returns the number of keys removed
func (ml *MessageLimiter) Cleanup() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	removed := 0
	for key := range ml.events {
		recent := ml.recentLocked(key, now)
		if len(recent) == 0 {
			delete(ml.events, key)
			removed++
			continue
		}
		ml.events[key] = recent
	}
	return removed
}

// StartCleanup runs Cleanup periodically until StopCleanup
func (ml *MessageLimiter) StartCleanup() {
	ml.cleanupWg.Add(1)
	go func() {
		defer ml.cleanupWg.Done()
		ticker := time.NewTicker(ml.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ml.Cleanup()
			case <-ml.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it. Safe to call twice.
func (ml *MessageLimiter) StopCleanup() {
	ml.stopOnce.Do(func() { close(ml.stopCleanup) })
	ml.cleanupWg.Wait()
}
