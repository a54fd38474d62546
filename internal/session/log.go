package session

import (
	"iter"
	"time"

	"github.com/real-rm/supportchat/internal/auth"
)

// Message is one immutable entry of a room's log. IDs start at 1 and
// increase by one per append within a room.
type Message struct {
	ID         int64
	RoomID     string
	SenderID   string
	SenderRole auth.Role
	SenderName string
	Body       string
	Timestamp  time.Time
}

// messageLog is append-only. Entries are never modified after append, so a
// slice captured under the room lock stays valid after the lock is released.
type messageLog struct {
	entries []Message
}

func (l *messageLog) append(roomID string, sender auth.Identity, body string, at time.Time) Message {
	msg := Message{
		ID:         l.lastID() + 1,
		RoomID:     roomID,
		SenderID:   sender.ParticipantID,
		SenderRole: sender.Role,
		SenderName: sender.DisplayName(),
		Body:       body,
		Timestamp:  at,
	}
	l.entries = append(l.entries, msg)
	return msg
}

func (l *messageLog) lastID() int64 {
	return int64(len(l.entries))
}

// since returns the entries with ID > sinceID. The result shares storage with
// the log and must not be modified.
func (l *messageLog) since(sinceID int64) []Message {
	if sinceID < 0 {
		sinceID = 0
	}
	if sinceID >= l.lastID() {
		return nil
	}
	// ids are dense, so entry i has id i+1
	return l.entries[sinceID:len(l.entries):len(l.entries)]
}

// Seq adapts a captured slice of messages to an iterator. The sequence is
// finite and can be ranged over any number of times.
func Seq(msgs []Message) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}
