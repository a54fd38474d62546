package storage

import (
	"context"
	"log/slog"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/util"
	"github.com/real-rm/supportchat/internal/worker"
)

// Archive is where closed rooms are written. *StorageService implements it.
type Archive interface {
	SaveRoom(ctx context.Context, doc *RoomDocument) error
}

// Archiver writes every closed room to an Archive behind a bounded queue.
// Live chat never waits for the database: when the queue is full the room is
// dropped from the archive and counted.
type Archiver struct {
	archive     Archive
	queue       *worker.Queue[session.RoomClosed]
	logger      *slog.Logger
	unsubscribe func()
}

// NewArchiver subscribes to room closes on bus and starts the writer
func NewArchiver(archive Archive, bus *events.Bus, queueSize int, logger *slog.Logger) *Archiver {
	if queueSize <= 0 {
		queueSize = constants.DefaultArchiveQueueSize
	}
	a := &Archiver{
		archive: archive,
		logger:  logger.With("component", "archiver"),
	}
	a.queue = worker.NewQueue("archiver", queueSize, a.logger, a.write)
	a.unsubscribe = events.Subscribe(bus, a.onRoomClosed)
	return a
}

// onRoomClosed runs under the room lock; the history slice is immutable, so
// conversion is left to the worker.
func (a *Archiver) onRoomClosed(e session.RoomClosed) {
	if a.queue.Offer(e) {
		return
	}
	metrics.ArchiveWrites.WithLabelValues("dropped").Inc()
	a.logger.Warn("Archive queue full, room not archived",
		"room_id", e.Room.ID,
		"messages", len(e.Messages))
}

func (a *Archiver) write(e session.RoomClosed) {
	ctx, cancel := util.NewTimeoutContext(constants.ArchiveWriteTimeout)
	defer cancel()

	doc := NewRoomDocument(e.Room, e.PreviousState, e.Messages)
	if err := a.archive.SaveRoom(ctx, doc); err != nil {
		metrics.ArchiveWrites.WithLabelValues("failure").Inc()
		util.LogError(a.logger, "archiver", "archive room", err, "room_id", e.Room.ID)
		return
	}
	metrics.ArchiveWrites.WithLabelValues("success").Inc()
}

// Pending returns the number of rooms waiting to be written
func (a *Archiver) Pending() int {
	return a.queue.Len()
}

// Stop unsubscribes from the bus and waits for queued rooms to be written
func (a *Archiver) Stop(ctx context.Context) error {
	a.unsubscribe()
	if err := a.queue.Stop(ctx); err != nil {
		a.logger.Warn("Archive queue not drained before shutdown", "pending", a.queue.Len(), "error", err)
		return err
	}
	a.logger.Info("Archiver stopped")
	return nil
}
