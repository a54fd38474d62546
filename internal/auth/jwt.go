package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/real-rm/supportchat/internal/constants"
)

var (
	// ErrInvalidToken is returned when the token is malformed or invalid
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = fmt.Errorf("%w: token has expired", ErrUnauthenticated)
	// ErrInvalidSignature is returned when the token signature is invalid
	ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", ErrUnauthenticated)
	// ErrMissingClaims is returned when the subject claim is missing
	ErrMissingClaims = fmt.Errorf("%w: missing required claims", ErrUnauthenticated)
)

// Claims holds what the service reads from a token
type Claims struct {
	UserID         string
	Name           string
	Roles          []string
	OrganizationID string
}

// JWTValidator checks HMAC signed tokens
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the shared secret
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken verifies the signature and expiry of tokenString and extracts
// its claims. The subject is read from user_id, falling back to sub. A token
// without roles belongs to a customer.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidSignature, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, ErrInvalidSignature):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unable to parse claims", ErrInvalidToken)
	}

	userID, _ := mapClaims["user_id"].(string)
	if userID == "" {
		userID, _ = mapClaims["sub"].(string)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id claim missing or invalid", ErrMissingClaims)
	}
	if strings.HasPrefix(userID, constants.GuestIDPrefix) {
		return nil, fmt.Errorf("%w: subject uses the reserved guest prefix", ErrInvalidToken)
	}

	name, _ := mapClaims["name"].(string)
	orgID, _ := mapClaims["organization_id"].(string)

	var roles []string
	if raw, ok := mapClaims["roles"]; ok {
		roles, err = extractRoles(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingClaims, err)
		}
	}

	return &Claims{
		UserID:         userID,
		Name:           name,
		Roles:          roles,
		OrganizationID: orgID,
	}, nil
}

// extractRoles converts the roles claim to a string slice
func extractRoles(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []any:
		roles := make([]string, len(v))
		for i, role := range v {
			s, ok := role.(string)
			if !ok {
				return nil, fmt.Errorf("roles array contains non-string value at index %d", i)
			}
			roles[i] = s
		}
		return roles, nil
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	}
	return nil, errors.New("roles claim must be an array of strings")
}
