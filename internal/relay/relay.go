// Package relay publishes a compact record of every room change to a Redis
// channel, for dashboards and other processes that watch the queue.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/util"
	"github.com/real-rm/supportchat/internal/worker"
)

// Record kinds
const (
	EventRoomCreated     = "room_created"
	EventRoomClaimed     = "room_claimed"
	EventRoomTransferred = "room_transferred"
	EventMessageAppended = "message_appended"
	EventRoomClosed      = "room_closed"
	EventRoomPurged      = "room_purged"
)

// Record is what gets published. Message bodies are never relayed.
type Record struct {
	Event          string    `json:"event"`
	RoomID         string    `json:"roomId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Department     string    `json:"department,omitempty"`
	State          string    `json:"state,omitempty"`
	AgentID        string    `json:"agentId,omitempty"`
	MessageID      int64     `json:"messageId,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher sends a payload to a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes with Redis PUBLISH
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// NewRedisClient connects to cfg.Addr and checks the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  constants.RelayPublishTimeout,
		WriteTimeout: constants.RelayPublishTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Relay turns domain events into published records. Publishing happens on a
// worker; a full queue drops records rather than slowing a room down.
type Relay struct {
	publisher   Publisher
	channel     string
	logger      *slog.Logger
	queue       *worker.Queue[Record]
	unsubscribe []func()
	now         func() time.Time
}

// New subscribes a relay to bus. Call Stop to detach it.
func New(publisher Publisher, bus *events.Bus, channel string, queueSize int, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = constants.DefaultRedisChannel
	}
	if queueSize <= 0 {
		queueSize = constants.DefaultRelayQueueSize
	}
	r := &Relay{
		publisher: publisher,
		channel:   channel,
		logger:    logger.With("component", "relay"),
		now:       time.Now,
	}
	r.queue = worker.NewQueue("relay", queueSize, r.logger, r.publish)
	r.unsubscribe = []func(){
		events.Subscribe(bus, func(e session.RoomCreated) {
			r.enqueue(fromRoom(EventRoomCreated, e.Room))
		}),
		events.Subscribe(bus, func(e session.RoomClaimed) {
			r.enqueue(fromRoom(EventRoomClaimed, e.Room))
		}),
		events.Subscribe(bus, func(e session.RoomTransferred) {
			r.enqueue(fromRoom(EventRoomTransferred, e.Room))
		}),
		events.Subscribe(bus, func(e session.MessageAppended) {
			rec := fromRoom(EventMessageAppended, e.Room)
			rec.MessageID = e.Message.ID
			r.enqueue(rec)
		}),
		events.Subscribe(bus, func(e session.RoomClosed) {
			r.enqueue(fromRoom(EventRoomClosed, e.Room))
		}),
		events.Subscribe(bus, func(e session.RoomPurged) {
			r.enqueue(Record{Event: EventRoomPurged, RoomID: e.RoomID})
		}),
	}
	return r
}

func fromRoom(event string, room session.RoomView) Record {
	return Record{
		Event:          event,
		RoomID:         room.ID,
		OrganizationID: room.OrganizationID,
		Department:     room.Department,
		State:          string(room.State),
		AgentID:        room.AgentID,
	}
}

func (r *Relay) enqueue(rec Record) {
	rec.At = r.now().UTC()
	if r.queue.Offer(rec) {
		return
	}
	metrics.RelayPublishes.WithLabelValues("dropped").Inc()
	r.logger.Warn("Relay queue full, record dropped", "event", rec.Event, "room_id", rec.RoomID)
}

func (r *Relay) publish(rec Record) {
	payload, err := util.MarshalJSON(rec)
	if err != nil {
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		util.LogError(r.logger, "relay", "encode record", err, "event", rec.Event)
		return
	}

	ctx, cancel := util.NewTimeoutContext(constants.RelayPublishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, r.channel, payload); err != nil {
		metrics.RelayPublishes.WithLabelValues("failure").Inc()
		util.LogError(r.logger, "relay", "publish record", err, "event", rec.Event, "room_id", rec.RoomID)
		return
	}
	metrics.RelayPublishes.WithLabelValues("success").Inc()
}

// Stop detaches from the bus and flushes queued records until ctx is done
func (r *Relay) Stop(ctx context.Context) error {
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	return r.queue.Stop(ctx)
}
