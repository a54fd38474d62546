// Package router is the event gateway: it turns inbound WebSocket events into
// Room Store operations and turns the resulting domain events into outbound
// frames for the right connections.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/util"
)

var (
	// ErrNilClient is returned when Route is called without a client
	ErrNilClient = errors.New("client cannot be nil")
	// ErrNilEnvelope is returned when Route is called without a frame
	ErrNilEnvelope = errors.New("envelope cannot be nil")
)

// RoomStore is the part of the Room Store the gateway drives
type RoomStore interface {
	CreateRoom(ctx context.Context, customer auth.Identity, meta session.RoomMetadata) (session.RoomView, error)
	Claim(ctx context.Context, roomID string, agent auth.Identity) (session.RoomView, error)
	Close(ctx context.Context, roomID, actorID string) (session.RoomView, bool, error)
	Transfer(ctx context.Context, roomID, actorID string, toAgent auth.Identity) (session.RoomView, error)
	Append(ctx context.Context, roomID string, sender auth.Identity, body string) (session.Message, error)
	Get(roomID string) (session.RoomView, error)
	Snapshot(roomID string) (session.RoomView, []session.Message, error)
	OpenRoomFor(customerID string) (session.RoomView, bool)
	ListWaiting() []session.RoomView
	ListActive() []session.RoomView
	ActiveFor(agentID string) []session.RoomView
}

// Connections is the part of the Connection Registry the gateway reads
type Connections interface {
	HandlesFor(participantID string) []registry.Handle
	AllAgentHandles() []registry.Handle
}

// handlerFunc handles one inbound event for client
type handlerFunc func(ctx context.Context, client registry.Handle, data json.RawMessage) error

// typed adapts a handler taking a decoded payload to a handlerFunc. The raw
// data is decoded into T, sanitized and validated before fn runs.
func typed[T any, PT interface {
	*T
	message.Inbound
}](fn func(ctx context.Context, client registry.Handle, payload T) error) handlerFunc {
	return func(ctx context.Context, client registry.Handle, data json.RawMessage) error {
		var payload T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				return chaterrors.ErrInvalidMessageFormat("data does not match the event", err)
			}
		}
		p := PT(&payload)
		p.Sanitize()
		if err := p.Validate(); err != nil {
			return validationError(err)
		}
		return fn(ctx, client, payload)
	}
}

func validationError(err error) *chaterrors.ChatError {
	var verr *message.ValidationError
	if errors.As(err, &verr) && verr.Missing {
		return chaterrors.ErrMissingField(verr.Field)
	}
	return chaterrors.ErrInvalidMessageFormat(err.Error(), err)
}

// EventRouter is the event gateway
type EventRouter struct {
	store    RoomStore
	conns    Connections
	limiter  *ratelimit.MessageLimiter
	logger   *slog.Logger
	dispatch map[message.EventType]handlerFunc

	unsubscribe []func()
}

// New creates a gateway and subscribes its broadcaster to bus. Call Shutdown
// to detach it.
func New(store RoomStore, conns Connections, bus *events.Bus, limiter *ratelimit.MessageLimiter, logger *slog.Logger) *EventRouter {
	if limiter == nil {
		limiter = ratelimit.NewMessageLimiter(constants.DefaultRateWindow, constants.DefaultRateLimit)
	}
	limiter.StartCleanup()

	r := &EventRouter{
		store:   store,
		conns:   conns,
		limiter: limiter,
		logger:  logger.With("component", "router"),
	}
	r.dispatch = map[message.EventType]handlerFunc{
		message.TypeNewChatRequest: typed(r.handleNewChatRequest),
		message.TypeAcceptChat:     typed(r.handleAcceptChat),
		message.TypeSendMessage:    typed(r.handleSendMessage),
		message.TypeTyping:         typed(r.handleTyping),
		message.TypeStopTyping:     typed(r.handleStopTyping),
		message.TypeCloseChat:      typed(r.handleCloseChat),
		message.TypeTransferChat:   typed(r.handleTransferChat),
	}
	r.subscribe(bus)
	return r
}

// Route handles one inbound frame from client. Any failure is reported to
// client as an error frame and also returned.
func (r *EventRouter) Route(ctx context.Context, client registry.Handle, env *message.Envelope) error {
	if client == nil {
		return ErrNilClient
	}
	if env == nil {
		return ErrNilEnvelope
	}

	if util.TraceIDFromContext(ctx) == "" {
		ctx = util.NewContextWithTraceID(ctx)
	}
	metrics.EventsReceived.WithLabelValues(string(env.Type)).Inc()

	handler, ok := r.dispatch[env.Type]
	if !ok {
		err := chaterrors.ErrUnknownEvent(string(env.Type))
		r.HandleError(ctx, client, err)
		return err
	}

	if err := handler(ctx, client, env.Data); err != nil {
		r.HandleError(ctx, client, err)
		return err
	}
	return nil
}

// HandleError reports err to client as an error frame. Only the originating
// connection is told; the connection stays open.
func (r *EventRouter) HandleError(ctx context.Context, client registry.Handle, err error) {
	if err == nil || client == nil {
		return
	}
	chatErr := chaterrors.FromDomain(err)
	metrics.EventErrors.WithLabelValues(string(chatErr.Code)).Inc()

	identity := client.Identity()
	attrs := []any{
		"code", chatErr.Code,
		"participant_id", identity.ParticipantID,
		"connection_id", client.ID(),
		"trace_id", util.TraceIDFromContext(ctx),
	}
	if chatErr.Category == chaterrors.CategoryService {
		util.LogError(r.logger, "router", "handle event", err, attrs...)
	} else {
		r.logger.Debug("Event rejected", append(attrs, "error", err)...)
	}

	data, mErr := util.MarshalJSON(message.NewErrorEnvelope(chatErr.ToErrorInfo()))
	if mErr != nil {
		util.LogError(r.logger, "router", "encode error frame", mErr)
		return
	}
	r.deliver([]registry.Handle{client}, data)
}

// Shutdown detaches the broadcaster and stops the rate limiter's cleanup
func (r *EventRouter) Shutdown() {
	r.logger.Info("Shutting down event router")
	for _, unsubscribe := range r.unsubscribe {
		unsubscribe()
	}
	r.unsubscribe = nil
	r.limiter.StopCleanup()
}

// send encodes payload once and delivers it to every handle
func (r *EventRouter) send(handles []registry.Handle, eventType message.EventType, payload any) {
	if len(handles) == 0 {
		return
	}
	data, err := message.Encode(eventType, payload)
	if err != nil {
		util.LogError(r.logger, "router", fmt.Sprintf("encode %s", eventType), err)
		return
	}
	r.deliver(handles, data)
}

// deliver queues data on each handle without blocking. A full or closing
// handle loses the frame; the failure is logged and counted, never returned.
func (r *EventRouter) deliver(handles []registry.Handle, data []byte) {
	for _, h := range handles {
		if h.Send(data) {
			metrics.FramesSent.Inc()
			continue
		}
		metrics.FramesDropped.Inc()
		r.logger.Warn("Dropped frame for slow or closing connection",
			"connection_id", h.ID(),
			"participant_id", h.Identity().ParticipantID)
	}
}
