// Package config loads the service configuration: a TOML file, then
// environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/util"
)

// ConfigFileEnv names the environment variable holding the config file path
const ConfigFileEnv = "SUPPORTCHAT_CONFIG"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Session      SessionConfig      `toml:"session"`
	Log          LogConfig          `toml:"log"`
	Database     DatabaseConfig     `toml:"database"`
	Redis        RedisConfig        `toml:"redis"`
	Notification NotificationConfig `toml:"notification"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port                   int      `toml:"port"`
	PathPrefix             string   `toml:"path_prefix"` // HTTP path prefix for all routes
	JWTSecret              string   `toml:"jwt_secret"`
	AllowGuests            bool     `toml:"allow_guests"`
	MaxMessageSize         int64    `toml:"max_message_size"`
	MaxConnsPerParticipant int      `toml:"max_connections_per_participant"`
	RateLimit              int      `toml:"rate_limit"` // send_message events per window
	RateWindow             Duration `toml:"rate_window"`
	AdminRateLimit         int      `toml:"admin_rate_limit"`     // admin requests per window
	AllowedOrigins         []string `toml:"allowed_origins"`      // WebSocket origins; empty allows all
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"` // HTTP CORS origins; empty disables CORS
	TrustedProxies         []string `toml:"trusted_proxies"`
	MetricsAllowedNetworks []string `toml:"metrics_allowed_networks"`
}

// SessionConfig tunes the room store
type SessionConfig struct {
	CloseGracePeriod Duration `toml:"close_grace_period"`
	CleanupInterval  Duration `toml:"cleanup_interval"`
}

// LogConfig configures the log sinks
type LogConfig struct {
	Dir            string `toml:"dir"`
	Level          string `toml:"level"`
	StandardOutput bool   `toml:"standard_output"`
	MaxSizeMB      int    `toml:"max_size_mb"`
	MaxBackups     int    `toml:"max_backups"`
	MaxAgeDays     int    `toml:"max_age_days"`
}

// DatabaseConfig holds MongoDB configuration. An empty URI disables archiving.
type DatabaseConfig struct {
	URI              string   `toml:"uri"`
	Database         string   `toml:"database"`
	Collection       string   `toml:"collection"`
	EncryptionKey    string   `toml:"encryption_key"` // 32 bytes for AES-256, empty disables encryption
	ArchiveQueueSize int      `toml:"archive_queue_size"`
	ConnectTimeout   Duration `toml:"connect_timeout"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryDelay       Duration `toml:"retry_delay"`
	RetryMaxDelay    Duration `toml:"retry_max_delay"`
}

// Enabled reports whether an archive database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URI != ""
}

// RedisConfig configures the event relay. An empty Addr disables it.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Channel   string `toml:"channel"`
	QueueSize int    `toml:"queue_size"`
}

// Enabled reports whether a relay is configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// NotificationConfig configures alert emails. An empty SMTPHost disables them.
type NotificationConfig struct {
	SMTPHost    string   `toml:"smtp_host"`
	SMTPPort    int      `toml:"smtp_port"`
	SMTPUser    string   `toml:"smtp_user"`
	SMTPPass    string   `toml:"smtp_pass"`
	From        string   `toml:"from"`
	AdminEmails []string `toml:"admin_emails"`
	AdminURL    string   `toml:"admin_url"` // console link included in alerts
	Cooldown    Duration `toml:"cooldown"`  // per department
}

// Enabled reports whether alert emails can be sent
func (n NotificationConfig) Enabled() bool {
	return n.SMTPHost != "" && len(n.AdminEmails) > 0
}

// Default returns the configuration used when neither file nor environment set a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   constants.DefaultPort,
			PathPrefix:             constants.DefaultPathPrefix,
			AllowGuests:            true,
			MaxMessageSize:         constants.DefaultMaxMessageSize,
			MaxConnsPerParticipant: constants.DefaultMaxConnsPerUser,
			RateLimit:              constants.DefaultRateLimit,
			RateWindow:             Duration{constants.DefaultRateWindow},
			AdminRateLimit:         constants.DefaultAdminRateLimit,
			TrustedProxies:         strings.Split(constants.DefaultTrustedProxies, ","),
			MetricsAllowedNetworks: strings.Split(constants.DefaultMetricsAllowedNetworks, ","),
		},
		Session: SessionConfig{
			CloseGracePeriod: Duration{constants.DefaultCloseGracePeriod},
			CleanupInterval:  Duration{constants.DefaultCleanupInterval},
		},
		Log: LogConfig{
			Dir:            constants.DefaultLogDir,
			Level:          constants.DefaultLogLevel,
			StandardOutput: true,
			MaxSizeMB:      100,
			MaxBackups:     5,
			MaxAgeDays:     30,
		},
		Database: DatabaseConfig{
			Database:         constants.DefaultDatabase,
			Collection:       constants.DefaultCollection,
			ArchiveQueueSize: constants.DefaultArchiveQueueSize,
			ConnectTimeout:   Duration{constants.MongoConnectTimeout},
			RetryAttempts:    constants.MaxRetryAttempts,
			RetryDelay:       Duration{constants.InitialRetryDelay},
			RetryMaxDelay:    Duration{constants.MaxRetryDelay},
		},
		Redis: RedisConfig{
			Channel:   constants.DefaultRedisChannel,
			QueueSize: constants.DefaultRelayQueueSize,
		},
		Notification: NotificationConfig{
			SMTPPort: constants.DefaultSMTPPort,
			Cooldown: Duration{constants.DefaultNotificationCooldown},
		},
	}
}

// Load reads the file named by SUPPORTCHAT_CONFIG (default config.toml; a
// missing default file is not an error) and applies environment overrides.
// Precedence is env > file > default. Load does not validate.
func Load() (*Config, error) {
	path := os.Getenv(ConfigFileEnv)
	explicit := path != ""
	if !explicit {
		path = constants.DefaultConfigFile
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads path on top of the defaults, then applies environment overrides
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return fmt.Errorf("parse config file %s at %d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Port = getEnvAsInt("SERVER_PORT", s.Port)
	s.PathPrefix = getEnv("SUPPORTCHAT_PATH_PREFIX", s.PathPrefix)
	s.JWTSecret = getEnv("JWT_SECRET", s.JWTSecret)
	s.AllowGuests = getEnvAsBool("ALLOW_GUESTS", s.AllowGuests)
	s.MaxMessageSize = int64(getEnvAsInt("MAX_MESSAGE_SIZE", int(s.MaxMessageSize)))
	s.MaxConnsPerParticipant = getEnvAsInt("MAX_CONNECTIONS_PER_PARTICIPANT", s.MaxConnsPerParticipant)
	s.RateLimit = getEnvAsInt("RATE_LIMIT", s.RateLimit)
	s.RateWindow.Duration = getEnvAsDuration("RATE_WINDOW", s.RateWindow.Duration)
	s.AdminRateLimit = getEnvAsInt("ADMIN_RATE_LIMIT", s.AdminRateLimit)
	s.AllowedOrigins = getEnvAsSlice("ALLOWED_ORIGINS", s.AllowedOrigins)
	s.CORSAllowedOrigins = getEnvAsSlice("CORS_ALLOWED_ORIGINS", s.CORSAllowedOrigins)
	s.TrustedProxies = getEnvAsSlice("TRUSTED_PROXIES", s.TrustedProxies)
	s.MetricsAllowedNetworks = getEnvAsSlice("METRICS_ALLOWED_NETWORKS", s.MetricsAllowedNetworks)

	c.Session.CloseGracePeriod.Duration = getEnvAsDuration("CLOSE_GRACE_PERIOD", c.Session.CloseGracePeriod.Duration)
	c.Session.CleanupInterval.Duration = getEnvAsDuration("CLEANUP_INTERVAL", c.Session.CleanupInterval.Duration)

	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.StandardOutput = getEnvAsBool("LOG_STDOUT", c.Log.StandardOutput)

	d := &c.Database
	d.URI = getEnv("MONGO_URI", d.URI)
	d.Database = getEnv("MONGO_DATABASE", d.Database)
	d.Collection = getEnv("MONGO_COLLECTION", d.Collection)
	d.EncryptionKey = getEnv("ENCRYPTION_KEY", d.EncryptionKey)
	d.ArchiveQueueSize = getEnvAsInt("ARCHIVE_QUEUE_SIZE", d.ArchiveQueueSize)
	d.ConnectTimeout.Duration = getEnvAsDuration("MONGO_CONNECT_TIMEOUT", d.ConnectTimeout.Duration)
	d.RetryAttempts = getEnvAsInt("MONGO_RETRY_ATTEMPTS", d.RetryAttempts)
	d.RetryDelay.Duration = getEnvAsDuration("MONGO_RETRY_DELAY", d.RetryDelay.Duration)
	d.RetryMaxDelay.Duration = getEnvAsDuration("MONGO_RETRY_MAX_DELAY", d.RetryMaxDelay.Duration)

	r := &c.Redis
	r.Addr = getEnv("REDIS_ADDR", r.Addr)
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	r.DB = getEnvAsInt("REDIS_DB", r.DB)
	r.Channel = getEnv("REDIS_CHANNEL", r.Channel)

	n := &c.Notification
	n.SMTPHost = getEnv("SMTP_HOST", n.SMTPHost)
	n.SMTPPort = getEnvAsInt("SMTP_PORT", n.SMTPPort)
	n.SMTPUser = getEnv("SMTP_USER", n.SMTPUser)
	n.SMTPPass = getEnv("SMTP_PASS", n.SMTPPass)
	n.From = getEnv("EMAIL_FROM", n.From)
	n.AdminEmails = getEnvAsSlice("ADMIN_EMAILS", n.AdminEmails)
	n.AdminURL = getEnv("ADMIN_URL", n.AdminURL)
	n.Cooldown.Duration = getEnvAsDuration("NOTIFICATION_COOLDOWN", n.Cooldown.Duration)
}

// Validate validates the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	if err := util.ValidateRange(c.Server.Port, 1, 65535, "server port"); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateSecret(c.Server.JWTSecret)...)
	if err := util.ValidateNotEmpty(c.Server.PathPrefix, "path prefix"); err != nil {
		errs = append(errs, err)
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("path prefix must start with '/'"))
	}
	for name, value := range map[string]int{
		"max message size":                int(c.Server.MaxMessageSize),
		"max connections per participant": c.Server.MaxConnsPerParticipant,
		"rate limit":                      c.Server.RateLimit,
		"admin rate limit":                c.Server.AdminRateLimit,
	} {
		if err := util.ValidatePositive(value, name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, errors.New("rate window must be positive"))
	}
	if err := util.ValidateCIDRList(c.Server.TrustedProxies, "trusted proxies"); err != nil {
		errs = append(errs, err)
	}
	if err := util.ValidateCIDRList(c.Server.MetricsAllowedNetworks, "metrics allowed networks"); err != nil {
		errs = append(errs, err)
	}

	if c.Session.CloseGracePeriod.Duration <= 0 {
		errs = append(errs, errors.New("close grace period must be positive"))
	}
	if c.Session.CleanupInterval.Duration <= 0 {
		errs = append(errs, errors.New("cleanup interval must be positive"))
	}

	if c.Database.Enabled() {
		if c.Database.Database == "" {
			errs = append(errs, errors.New("database name is required"))
		}
		if c.Database.Collection == "" {
			errs = append(errs, errors.New("database collection is required"))
		}
		if err := util.ValidateExactLength([]byte(c.Database.EncryptionKey), constants.EncryptionKeyLength, "encryption key"); err != nil {
			errs = append(errs, err)
		}
		if err := util.ValidatePositive(c.Database.ArchiveQueueSize, "archive queue size"); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Redis.Enabled() && c.Redis.Channel == "" {
		errs = append(errs, errors.New("redis channel is required"))
	}

	if c.Notification.SMTPHost != "" {
		if err := util.ValidateRange(c.Notification.SMTPPort, 1, 65535, "SMTP port"); err != nil {
			errs = append(errs, err)
		}
		if c.Notification.From == "" {
			errs = append(errs, errors.New("notification sender address is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func validateSecret(secret string) []error {
	if secret == "" {
		return []error{errors.New("JWT secret is required")}
	}
	var errs []error
	if err := util.ValidateMinLength(secret, constants.MinJWTSecretLength, "JWT secret"); err != nil {
		errs = append(errs, fmt.Errorf("%w. Generate a strong secret with: openssl rand -base64 32", err))
	}
	if ok, weak := util.ContainsWeakPattern(secret, constants.WeakSecrets); ok {
		errs = append(errs, fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			weak))
	}
	return errs
}

// Duration is a time.Duration written as a string ("90s", "5m") in the config file
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}
