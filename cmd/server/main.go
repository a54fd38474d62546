package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/real-rm/supportchat"
	"github.com/real-rm/supportchat/internal/config"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/logging"
	"github.com/real-rm/supportchat/internal/relay"
	"github.com/real-rm/supportchat/internal/storage"
)

// loadConfiguration loads and validates the configuration
func loadConfiguration() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initializeLogger initializes the logger with the given configuration
func initializeLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Dir:            cfg.Log.Dir,
		Level:          cfg.Log.Level,
		StandardOutput: cfg.Log.StandardOutput,
		InfoFile:       "info.log",
		WarnFile:       "warn.log",
		ErrorFile:      "error.log",
		MaxSizeMB:      cfg.Log.MaxSizeMB,
		MaxBackups:     cfg.Log.MaxBackups,
		MaxAgeDays:     cfg.Log.MaxAgeDays,
	})
}

// connectDependencies dials the optional backends named in cfg. The returned
// cleanup closes whatever was opened, also on error.
func connectDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (supportchat.Dependencies, func(), error) {
	var deps supportchat.Dependencies
	var mongoClient *mongo.Client
	var redisClient *redis.Client

	cleanup := func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close Redis client", "error", err)
			}
		}
		if mongoClient != nil {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("Failed to disconnect MongoDB", "error", err)
			}
		}
	}

	if cfg.Database.Enabled() {
		if !strings.Contains(cfg.Database.URI, "@") {
			logger.Warn("MongoDB URI does not contain authentication credentials; ensure auth is configured for production")
		}
		client, err := storage.Connect(ctx, cfg.Database.URI, cfg.Database.ConnectTimeout.Duration)
		if err != nil {
			return deps, cleanup, err
		}
		mongoClient = client
		deps.Mongo = client
		logger.Info("Connected to MongoDB", "database", cfg.Database.Database, "collection", cfg.Database.Collection)
	}

	if cfg.Redis.Enabled() {
		client, err := relay.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return deps, cleanup, err
		}
		redisClient = client
		deps.Publisher = relay.NewRedisPublisher(client)
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	return deps, cleanup, nil
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// runWithSignalChannel runs the server until a signal arrives on sigChan or
// the listener fails
func runWithSignalChannel(sigChan chan os.Signal) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout.Duration+constants.HealthCheckTimeout)
	deps, closeDeps, err := connectDependencies(ctx, cfg, logger.Logger)
	cancel()
	defer closeDeps()
	if err != nil {
		return err
	}

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	svc, err := supportchat.Register(engine, cfg, logger.Logger, deps)
	if err != nil {
		return fmt.Errorf("failed to register support chat: %w", err)
	}

	srv := NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), engine)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info("Server starting", "port", cfg.Server.Port)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", "signal", sig.String())
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Support chat shutdown incomplete", "error", err)
	}
	logger.Info("Server stopped")
	return runErr
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
