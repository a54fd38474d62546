package util

import (
	"fmt"
	"net"
	"strings"
)

// ValidateNotEmpty returns an error naming fieldName when value is empty.
func ValidateNotEmpty(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateRange checks min <= value <= max.
func ValidateRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", fieldName, min, max, value)
	}
	return nil
}

// ValidateMinLength checks that value has at least minLength bytes.
func ValidateMinLength(value string, minLength int, fieldName string) error {
	if len(value) < minLength {
		return fmt.Errorf("%s must be at least %d characters, got %d", fieldName, minLength, len(value))
	}
	return nil
}

// ValidateExactLength checks that value is empty or exactly exactLength bytes long.
// Empty is accepted because an unset key disables the feature it guards.
func ValidateExactLength(value []byte, exactLength int, fieldName string) error {
	if len(value) != 0 && len(value) != exactLength {
		return fmt.Errorf("%s must be exactly %d bytes, got %d bytes", fieldName, exactLength, len(value))
	}
	return nil
}

// ValidatePositive checks value > 0.
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", fieldName, value)
	}
	return nil
}

// ValidateCIDRList checks that every non-blank entry of cidrs parses as a CIDR
// or a bare IP address.
func ValidateCIDRList(cidrs []string, fieldName string) error {
	for _, raw := range cidrs {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) != nil {
			continue
		}
		return fmt.Errorf("%s contains invalid network %q", fieldName, entry)
	}
	return nil
}
