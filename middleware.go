package supportchat

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/httperrors"
	"github.com/real-rm/supportchat/internal/metrics"
	"github.com/real-rm/supportchat/internal/ratelimit"
	"github.com/real-rm/supportchat/internal/util"
)

// identityKey is the gin context key of the authenticated staff identity
const identityKey = "identity"

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration. Unmatched routes share one
// path label so scanners cannot inflate the label set.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware limits the unauthenticated endpoints per client IP.
// ClientIP only trusts X-Forwarded-For from the configured proxies.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !limiter.Allow(clientIP) {
			logger.Debug("Public rate limit exceeded", "client_ip", clientIP, "path", c.Request.URL.Path)
			httperrors.RespondTooManyRequests(c, limiter.GetRetryAfter(clientIP))
			c.Abort()
			return
		}
		c.Next()
	}
}

// staffAuthMiddleware accepts agents and admins with a valid bearer token and
// stores their identity in the context
func staffAuthMiddleware(validator *auth.JWTValidator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := util.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			logger.Warn("Token validation failed", "error", err, "path", c.Request.URL.Path)
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		identity := auth.Identity{
			ParticipantID:  claims.UserID,
			Role:           auth.RoleFromClaims(claims.Roles),
			Name:           claims.Name,
			OrganizationID: claims.OrganizationID,
		}
		if !identity.Role.IsStaff() {
			logger.Warn("Insufficient permissions for admin endpoint",
				"user_id", claims.UserID,
				"roles", claims.Roles)
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// requireAdmin rejects staff members that are not administrators
func requireAdmin(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFrom(c)
		if !ok || identity.Role != auth.RoleAdmin {
			logger.Warn("Admin role required",
				"user_id", identity.ParticipantID,
				"path", c.Request.URL.Path)
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminRateLimitMiddleware limits staff requests per user. It runs after
// staffAuthMiddleware.
func adminRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFrom(c)
		if !ok {
			util.LogError(logger, "admin_rate_limit", "read identity", fmt.Errorf("no identity in context"))
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		if !limiter.Allow(identity.ParticipantID) {
			retryAfter := limiter.GetRetryAfter(identity.ParticipantID)
			logger.Warn("Admin rate limit exceeded",
				"user_id", identity.ParticipantID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter)
			httperrors.RespondTooManyRequests(c, retryAfter)
			c.Abort()
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

// parseNetworks parses CIDR strings, skipping invalid entries
func parseNetworks(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts the metrics endpoint to allowedNets. An
// empty list allows everyone (development mode).
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network", "client_ip", c.ClientIP())
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}
