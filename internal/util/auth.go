package util

import (
	"errors"
	"slices"
	"strings"

	"github.com/real-rm/supportchat/internal/constants"
)

var (
	// ErrMissingAuthHeader is returned when no Authorization header was sent
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	// ErrInvalidAuthHeader is returned when the header is not "Bearer <token>"
	ErrInvalidAuthHeader = errors.New("invalid Authorization header format")
)

// ExtractBearerToken returns the token part of a "Bearer <token>" header.
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	if !strings.HasPrefix(authHeader, constants.BearerPrefix) {
		return "", ErrInvalidAuthHeader
	}
	token := strings.TrimSpace(authHeader[constants.BearerPrefixLength:])
	if token == "" {
		return "", ErrInvalidAuthHeader
	}
	return token, nil
}

// HasRole reports whether userRoles contains at least one of requiredRoles.
func HasRole(userRoles []string, requiredRoles ...string) bool {
	for _, required := range requiredRoles {
		if slices.Contains(userRoles, required) {
			return true
		}
	}
	return false
}

// ContainsWeakPattern reports whether s contains one of weakPatterns, ignoring case,
// and returns the first pattern found.
func ContainsWeakPattern(s string, weakPatterns []string) (bool, string) {
	lower := strings.ToLower(s)
	for _, pattern := range weakPatterns {
		if strings.Contains(lower, pattern) {
			return true, pattern
		}
	}
	return false, ""
}
