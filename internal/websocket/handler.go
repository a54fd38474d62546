// Package websocket provides the WebSocket transport: authenticating the
// upgrade request, connection lifecycle, and the read and write pumps that
// connect a socket to the event gateway.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/constants"
	chaterrors "github.com/real-rm/supportchat/internal/errors"
	"github.com/real-rm/supportchat/internal/message"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/util"
)

var (
	// upgrader configures the WebSocket upgrade
	// SECURITY: In production, this service MUST be deployed behind a reverse proxy
	// that terminates TLS, so clients connect with wss://.
	// CheckOrigin is set per handler instance.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// connectionRetryAfter is the Retry-After hint, in milliseconds, for a refused connection
	connectionRetryAfter = 5000
)

// Router is the event gateway as seen by the transport
type Router interface {
	Route(ctx context.Context, client registry.Handle, env *message.Envelope) error
	HandleError(ctx context.Context, client registry.Handle, err error)
	Connected(client registry.Handle)
}

// Registry is where live connections are published for delivery
type Registry interface {
	Register(participantID string, role auth.Role, handle registry.Handle)
	Unregister(handle registry.Handle)
}

// Options tunes a Handler. Zero values select the defaults.
type Options struct {
	MaxMessageSize  int64
	MaxConnsPerUser int
	AllowedOrigins  []string
}

// Handler upgrades authenticated HTTP requests to WebSocket connections
type Handler struct {
	authenticator  auth.Authenticator
	router         Router
	registry       Registry
	logger         *slog.Logger
	connLimiter    *ratelimit.ConnectionLimiter
	allowedOrigins map[string]bool
	maxMessageSize int64

	connections  map[string]*Connection // connection id -> connection
	mu           sync.RWMutex
	pumps        sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewHandler creates a WebSocket handler
func NewHandler(authenticator auth.Authenticator, router Router, reg Registry, logger *slog.Logger, opts Options) *Handler {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = constants.DefaultMaxMessageSize
	}
	if opts.MaxConnsPerUser <= 0 {
		opts.MaxConnsPerUser = constants.DefaultMaxConnsPerUser
	}
	h := &Handler{
		authenticator:  authenticator,
		router:         router,
		registry:       reg,
		logger:         logger.With("component", "websocket"),
		connLimiter:    ratelimit.NewConnectionLimiter(opts.MaxConnsPerUser),
		maxMessageSize: opts.MaxMessageSize,
		connections:    make(map[string]*Connection),
	}
	h.SetAllowedOrigins(opts.AllowedOrigins)
	return h
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections.
// If no origins are set, all origins are allowed (development mode).
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool, len(origins))
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}
	if len(origins) > 0 {
		h.logger.Info("Configured allowed origins", "count", len(origins), "origins", origins)
	}
}

// IsOpenOrigin returns true when no allowed origins are configured.
// SECURITY: When true, any website can establish WebSocket connections.
func (h *Handler) IsOpenOrigin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 || h.allowedOrigins[origin] {
		return true
	}
	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// credentials extracts what the client presented. The Authorization header
// wins over the token query parameter.
func (h *Handler) credentials(r *http.Request) auth.Credentials {
	query := r.URL.Query()
	token, err := util.ExtractBearerToken(r.Header.Get(constants.HeaderAuthorization))
	if err != nil {
		token = query.Get("token")
		if token != "" {
			h.logger.Debug("Token provided via query parameter")
		}
	}
	return auth.Credentials{
		Token:     token,
		GuestID:   query.Get(constants.GuestQueryParam),
		GuestName: query.Get(constants.GuestNameParam),
	}
}

// HandleWebSocket authenticates the request, reserves a connection slot,
// upgrades, registers the connection and starts its pumps. Authentication
// happens before the upgrade, so a rejected client sees a plain HTTP 401.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.shuttingDown.Load() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	identity, err := h.authenticator.Authenticate(h.credentials(r))
	if err != nil {
		h.logger.Warn("Authentication failed", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	if !h.connLimiter.Allow(identity.ParticipantID) {
		h.logger.Warn("Connection limit exceeded", "participant_id", identity.ParticipantID)
		h.notifyConnectionLimit(identity.ParticipantID)

		chatErr := chaterrors.ErrConnectionLimitExceeded(connectionRetryAfter)
		w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(connectionRetryAfter/constants.MillisecondsPerSecond))
		http.Error(w, chatErr.Message, http.StatusTooManyRequests)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.connLimiter.Release(identity.ParticipantID)
		util.LogError(h.logger, "websocket", "upgrade connection", err, "participant_id", identity.ParticipantID)
		return
	}
	conn.SetReadLimit(h.maxMessageSize)

	c := newConnection(conn, identity)
	if !h.track(c) {
		h.connLimiter.Release(identity.ParticipantID)
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
		return
	}
	h.registry.Register(identity.ParticipantID, identity.Role, c)

	h.logger.Info("WebSocket connection established",
		"participant_id", identity.ParticipantID,
		"role", identity.Role,
		"guest", identity.IsGuest,
		"connection_id", c.id)

	// The write pump starts first so the replay frames queued by Connected
	// cannot overflow the buffer before anything drains it.
	util.SafeGo(h.logger, "writePump", func() {
		defer h.pumps.Done()
		c.writePump()
	})
	h.router.Connected(c)
	util.SafeGo(h.logger, "readPump", func() {
		defer h.pumps.Done()
		defer h.release(c)
		c.readPump(h)
	})
}

// track adds c to the live connections and reserves its two pumps. It
// reports false once shutdown has started; the shutdown flag is set under the
// same lock, so every tracked connection is seen by ShutdownWithContext.
func (h *Handler) track(c *Connection) bool {
	h.mu.Lock()
	if h.shuttingDown.Load() {
		h.mu.Unlock()
		return false
	}
	h.connections[c.id] = c
	h.pumps.Add(2)
	total := len(h.connections)
	h.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	h.logger.Debug("Connection tracked", "connection_id", c.id, "total_connections", total)
	return true
}

// release undoes everything HandleWebSocket set up for c. Rooms are left
// untouched: a customer who disconnects keeps their room and gets it back on
// reconnect.
func (h *Handler) release(c *Connection) {
	h.registry.Unregister(c)

	h.mu.Lock()
	_, tracked := h.connections[c.id]
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.shutdown()
	if !tracked {
		return
	}
	h.connLimiter.Release(c.identity.ParticipantID)
	metrics.WebSocketConnections.Dec()
	h.logger.Info("WebSocket connection closed",
		"participant_id", c.identity.ParticipantID,
		"connection_id", c.id)
}

// ConnectionCount returns the number of live connections
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// notifyConnectionLimit tells a participant's open connections that a new one was refused
func (h *Handler) notifyConnectionLimit(participantID string) {
	h.mu.RLock()
	var targets []*Connection
	for _, c := range h.connections {
		if c.identity.ParticipantID == participantID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	env := message.NewErrorEnvelope(chaterrors.ErrConnectionLimitExceeded(connectionRetryAfter).ToErrorInfo())
	data, err := util.MarshalJSON(env)
	if err != nil {
		util.LogError(h.logger, "websocket", "marshal connection limit notification", err,
			"participant_id", participantID)
		return
	}
	for _, c := range targets {
		if !c.Send(data) {
			h.logger.Warn("Failed to send connection limit notification, channel full or closing",
				"participant_id", participantID,
				"connection_id", c.id)
		}
	}
}

// ShutdownWithContext refuses new connections, sends a going-away close frame
// to every live connection and waits for their pumps to exit. It returns the
// context's error if the deadline passes first.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Info("Shutting down WebSocket handler, closing all connections")

	h.mu.Lock()
	h.shuttingDown.Store(true)
	connections := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		connections = append(connections, c)
	}
	h.mu.Unlock()

	for _, c := range connections {
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed gracefully", "closed", len(connections))
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded, forcing closure", "remaining_connections", h.ConnectionCount())
		return ctx.Err()
	}
}

// Connection is one live WebSocket connection. It implements registry.Handle.
type Connection struct {
	conn     *websocket.Conn
	id       string
	identity auth.Identity

	// send is never closed; done signals the write pump to stop
	send      chan []byte
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, identity auth.Identity) *Connection {
	return &Connection{
		conn:     conn,
		id:       uuid.NewString(),
		identity: identity,
		send:     make(chan []byte, constants.SendBufferSize),
		done:     make(chan struct{}),
	}
}

// ID implements registry.Handle
func (c *Connection) ID() string { return c.id }

// Identity implements registry.Handle
func (c *Connection) Identity() auth.Identity { return c.identity }

// Send queues data for the write pump. It never blocks: a closing connection
// or a full buffer drops the frame and returns false.
func (c *Connection) Send(data []byte) bool {
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown stops the write pump and closes the socket. Safe to call more than once.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeWith sends a close frame and then shuts the connection down. The read
// pump sees the closed socket and runs the handler's release.
func (c *Connection) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	c.shutdown()
}

// readPump decodes frames and routes them until the socket fails. Bad frames
// are answered with an error frame; the connection stays open.
func (c *Connection) readPump(h *Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				h.logger.Warn("WebSocket message size limit exceeded",
					"participant_id", c.identity.ParticipantID,
					"connection_id", c.id,
					"limit", h.maxMessageSize)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure):
				util.LogError(h.logger, "websocket", "read frame", err,
					"participant_id", c.identity.ParticipantID,
					"connection_id", c.id)
			default:
				h.logger.Debug("WebSocket connection closing", "connection_id", c.id, "reason", err)
			}
			return
		}

		frameCtx := util.NewContextWithTraceID(ctx)
		var env message.Envelope
		if err := util.UnmarshalJSON(raw, &env); err != nil {
			h.router.HandleError(frameCtx, c, chaterrors.ErrInvalidMessageFormat("frame is not a JSON envelope", err))
			continue
		}
		if env.Type == "" {
			h.router.HandleError(frameCtx, c, chaterrors.ErrMissingField("type"))
			continue
		}

		// Route reports its own failures to the client
		_ = h.router.Route(frameCtx, c, &env)
	}
}

// writePump writes queued frames and pings the peer until the connection shuts down
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
