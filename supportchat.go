// Package supportchat is a real-time customer support chat service. Register
// mounts the WebSocket gateway and the staff HTTP surface on a gin engine and
// returns the Service that owns every component.
package supportchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/events"
	"github.com/real-rm/supportchat/internal/notification"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/registry"
	"github.com/real-rm/supportchat/internal/relay"
	"github.com/real-rm/supportchat/internal/router"
	"github.com/real-rm/supportchat/internal/session"
	"github.com/real-rm/supportchat/internal/storage"
	"github.com/real-rm/supportchat/internal/util"
	"github.com/real-rm/supportchat/internal/websocket"
)

// Dependencies are the connected clients Register builds optional components
// on. A nil Mongo or Publisher disables the component it feeds.
type Dependencies struct {
	// Mongo enables the transcript archive
	Mongo *mongo.Client
	// Publisher enables the event relay
	Publisher relay.Publisher
	// Mailer overrides the SMTP dialer built from the notification config
	Mailer notification.Mailer
}

// transcriptReader is the read side of the archive used by the admin endpoints
type transcriptReader interface {
	Ping(ctx context.Context) error
	GetTranscript(ctx context.Context, roomID string) (*storage.RoomDocument, error)
	ListTranscripts(ctx context.Context, filter storage.TranscriptFilter) ([]*storage.TranscriptSummary, error)
}

// Service owns the chat components mounted by Register
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	bus      *events.Bus
	store    *session.Store
	registry *registry.Registry
	router   *router.EventRouter
	ws       *websocket.Handler

	transcripts transcriptReader // nil without an archive database
	archiver    *storage.Archiver
	relay       *relay.Relay
	notifier    *notification.Service

	adminLimiter  *ratelimit.MessageLimiter
	publicLimiter *ratelimit.MessageLimiter
	stopObserver  func()

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Register validates cfg, builds the service and mounts its routes under
// cfg.Server.PathPrefix. Nothing is started when it returns an error.
func Register(r *gin.Engine, cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for name, values := range map[string][]string{
		"server.allowed_origins":      cfg.Server.AllowedOrigins,
		"server.cors_allowed_origins": cfg.Server.CORSAllowedOrigins,
	} {
		for _, v := range values {
			if containsPlaceholder(v) {
				return nil, fmt.Errorf("%s contains placeholder value %q; set actual origins before deploying", name, v)
			}
		}
	}

	s := &Service{
		cfg:    cfg,
		logger: logger.With("component", "supportchat"),
	}

	var archive *storage.StorageService
	if deps.Mongo != nil {
		var err error
		archive, err = newArchive(deps.Mongo, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
	} else if cfg.Database.Enabled() {
		s.logger.Warn("Database configured but no MongoDB client provided, transcripts are not archived")
	}

	s.bus = events.NewBus(logger)
	s.store = session.NewStore(s.bus, logger, session.Options{
		CloseGracePeriod: cfg.Session.CloseGracePeriod.Duration,
		CleanupInterval:  cfg.Session.CleanupInterval.Duration,
	})
	s.registry = registry.New(logger)
	s.stopObserver = observeRooms(s.bus)

	validator := auth.NewJWTValidator(cfg.Server.JWTSecret)
	s.router = router.New(s.store, s.registry, s.bus,
		ratelimit.NewMessageLimiter(cfg.Server.RateWindow.Duration, cfg.Server.RateLimit), logger)
	s.ws = websocket.NewHandler(auth.NewJWTAuthenticator(validator, cfg.Server.AllowGuests), s.router, s.registry, logger,
		websocket.Options{
			MaxMessageSize:  cfg.Server.MaxMessageSize,
			MaxConnsPerUser: cfg.Server.MaxConnsPerParticipant,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
		})
	if s.ws.IsOpenOrigin() {
		s.logger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}

	if archive != nil {
		s.transcripts = archive
		s.archiver = storage.NewArchiver(archive, s.bus, cfg.Database.ArchiveQueueSize, logger)
	}
	if deps.Publisher != nil {
		s.relay = relay.New(deps.Publisher, s.bus, cfg.Redis.Channel, cfg.Redis.QueueSize, logger)
	}
	if mailer := deps.Mailer; mailer != nil || cfg.Notification.Enabled() {
		if mailer == nil {
			mailer = notification.NewDialer(cfg.Notification)
		}
		s.notifier = notification.NewService(mailer, s.registry, s.bus, logger, notification.Options{
			From:        cfg.Notification.From,
			AdminEmails: cfg.Notification.AdminEmails,
			AdminURL:    cfg.Notification.AdminURL,
			Cooldown:    cfg.Notification.Cooldown.Duration,
		})
	}

	s.adminLimiter = ratelimit.NewMessageLimiter(cfg.Server.RateWindow.Duration, cfg.Server.AdminRateLimit)
	s.publicLimiter = ratelimit.NewMessageLimiter(time.Minute, constants.PublicEndpointRate)
	s.store.StartCleanup()
	s.adminLimiter.StartCleanup()
	s.publicLimiter.StartCleanup()

	s.mount(r, validator)

	prefix := cfg.Server.PathPrefix
	s.logger.Info("Support chat service registered",
		"websocket_endpoint", prefix+"/ws",
		"admin_endpoints", prefix+"/admin/*",
		"health_endpoints", prefix+"/healthz, "+prefix+"/readyz",
		"metrics_endpoint", prefix+"/metrics/prometheus",
		"archive", s.archiver != nil,
		"relay", s.relay != nil,
		"notifications", s.notifier != nil)
	return s, nil
}

func newArchive(client *mongo.Client, cfg config.DatabaseConfig, logger *slog.Logger) (*storage.StorageService, error) {
	svc, err := storage.NewStorageService(client, cfg.Database, cfg.Collection, logger, storage.Options{
		EncryptionKey: []byte(cfg.EncryptionKey),
		Retry: storage.RetryConfig{
			MaxAttempts:  cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay.Duration,
			MaxDelay:     cfg.RetryMaxDelay.Duration,
			Multiplier:   constants.RetryMultiplier,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	ctx, cancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer cancel()
	if err := svc.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return svc, nil
}

func (s *Service) mount(r *gin.Engine, validator *auth.JWTValidator) {
	cfg := s.cfg.Server

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", constants.HeaderAuthorization},
			ExposeHeaders:    []string{"Content-Length", constants.HeaderRetryAfter},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
		s.logger.Info("CORS middleware configured", "allowed_origins", cfg.CORSAllowedOrigins)
	} else {
		s.logger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	if len(cfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			s.logger.Warn("Failed to set trusted proxies", "error", err)
		} else {
			s.logger.Info("Trusted proxies configured", "proxies", cfg.TrustedProxies)
		}
	}

	r.Use(securityHeadersMiddleware())
	r.Use(metricsMiddleware())

	public := publicRateLimitMiddleware(s.publicLimiter, s.logger)
	group := r.Group(cfg.PathPrefix)
	{
		group.GET("/ws", s.handleWebSocket)
		group.GET("/healthz", public, handleHealthCheck)
		group.GET("/readyz", public, s.handleReadyCheck)
		group.GET("/metrics/prometheus",
			metricsNetworkMiddleware(parseNetworks(cfg.MetricsAllowedNetworks, s.logger), s.logger),
			public,
			gin.WrapH(promhttp.Handler()),
		)

		admin := group.Group("/admin")
		admin.Use(staffAuthMiddleware(validator, s.logger))
		admin.Use(adminRateLimitMiddleware(s.adminLimiter, s.logger))
		{
			admin.GET("/rooms/waiting", s.handleListWaiting)
			admin.GET("/rooms/active", s.handleListActive)
			admin.GET("/rooms/:roomID", s.handleGetRoom)
			admin.POST("/rooms/:roomID/close", requireAdmin(s.logger), s.handleCloseRoom)
			admin.GET("/transcripts", s.handleListTranscripts)
			admin.GET("/transcripts/:roomID", s.handleGetTranscript)
		}
	}
}

// handleWebSocket moves a query token into the Authorization header so it
// does not appear in access logs, then upgrades
func (s *Service) handleWebSocket(c *gin.Context) {
	if token := c.Query("token"); token != "" {
		if c.Request.Header.Get(constants.HeaderAuthorization) == "" {
			c.Request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+token)
		}
		q := c.Request.URL.Query()
		q.Del("token")
		c.Request.URL.RawQuery = q.Encode()
	}
	s.ws.HandleWebSocket(c.Writer, c.Request)
}

// Store returns the room store
func (s *Service) Store() *session.Store {
	return s.store
}

// ConnectionCount returns the number of open WebSocket connections
func (s *Service) ConnectionCount() int {
	return s.ws.ConnectionCount()
}

// Shutdown closes every connection, stops the background workers and drains
// the archive and relay queues within ctx. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		s.logger.Info("Starting graceful shutdown of support chat service")

		var errs []error
		if err := s.ws.ShutdownWithContext(ctx); err != nil {
			s.logger.Warn("WebSocket handler shutdown error", "error", err)
			errs = append(errs, err)
		}
		s.store.StopCleanup()
		s.router.Shutdown()
		s.adminLimiter.StopCleanup()
		s.publicLimiter.StopCleanup()

		if s.notifier != nil {
			s.notifier.Stop()
		}
		if s.relay != nil {
			if err := s.relay.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("relay: %w", err))
			}
		}
		if s.archiver != nil {
			if err := s.archiver.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("archiver: %w", err))
			}
		}
		s.stopObserver()

		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("Support chat service shutdown complete")
	})
	return s.shutdownErr
}

// containsPlaceholder reports whether a configuration value still holds a
// deployment placeholder
func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}
