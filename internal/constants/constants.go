// Package constants provides centralized constant definitions for the support chat service.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	MongoConnectTimeout   = 10 * time.Second // Initial MongoDB connection
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	ArchiveWriteTimeout   = 10 * time.Second // One archive write including retries
	RelayPublishTimeout   = 2 * time.Second  // One Redis publish
	NotificationTimeout   = 15 * time.Second // One alert email
	ShutdownTimeout       = 10 * time.Second // Graceful shutdown budget
)

// Sizes and Limits
const (
	DefaultMaxMessageSize      = 65536 // 64KB per WebSocket frame
	EncryptionKeyLength        = 32    // AES-256 requires exactly 32 bytes
	DefaultRateLimit           = 60    // Default send_message events per window per participant
	DefaultAdminRateLimit      = 20    // Default admin requests per window
	DefaultMaxConnsPerUser     = 10    // Concurrent connections per participant (tabs)
	DefaultArchiveQueueSize    = 1024  // Pending room archives before dropping
	DefaultRelayQueueSize      = 4096  // Pending relay records before dropping
	SendBufferSize             = 256   // Outbound frames buffered per connection
	MaxRetryAttempts           = 3     // Maximum retry attempts for transient errors
	MaxUsersTracked            = 100000
	PublicEndpointRate         = 60 // Requests per minute for public endpoints (healthz, readyz, metrics)
	MaxGuestIDLength           = 64
	MinGuestIDLength           = 8
	MaxDepartmentLength        = 64
	MaxBodyLength              = 4000 // Characters per chat message
	MaxRoomIDLength            = 64
	DefaultTranscriptListLimit = 50
	MaxTranscriptListLimit     = 500
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second
	HTTPWriteTimeout = 60 * time.Second
	HTTPIdleTimeout  = 120 * time.Second
)

// Durations for background operations
const (
	DefaultCloseGracePeriod     = 5 * time.Minute // Closed rooms stay readable this long
	DefaultRateWindow           = 1 * time.Minute
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultNotificationCooldown = 10 * time.Minute
	InitialRetryDelay           = 100 * time.Millisecond
	MaxRetryDelay               = 2 * time.Second
	RetryMultiplier             = 2.0
)

// Role Names carried by the authentication collaborator
const (
	RoleCustomer  = "customer"
	RoleAgent     = "agent"
	RoleAdmin     = "admin"
	RoleChatAdmin = "chat_admin"
	RoleSupport   = "support"
)

// Guest identities
const (
	GuestIDPrefix    = "guest:"
	GuestQueryParam  = "guest_id"
	GuestNameParam   = "name"
	DefaultGuestName = "Guest"
)

// Default Configuration Values
const (
	DefaultDatabase     = "supportchat"
	DefaultCollection   = "rooms"
	DefaultPort         = 8080
	DefaultLogLevel     = "info"
	DefaultLogDir       = "logs"
	DefaultPathPrefix   = "/supportchat"
	DefaultRedisChannel = "supportchat:events"
	DefaultConfigFile   = "config.toml"
	DefaultSMTPPort     = 587
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// Error Messages
const (
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
)

// MongoDB Field Names (BSON tags)
const (
	MongoFieldID         = "_id"
	MongoFieldCustomerID = "cid"
	MongoFieldAgentID    = "aid"
	MongoFieldOrgID      = "org"
	MongoFieldClosedAt   = "closedTs"
	MongoFieldMessages   = "msgs"
)

// MongoDB Index Names
const (
	IndexCustomerID     = "idx_customer_id"
	IndexAgentID        = "idx_agent_id"
	IndexOrgClosedAt    = "idx_org_closed_at"
	IndexCustomerClosed = "idx_customer_closed_at"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)
