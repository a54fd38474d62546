package auth

import (
	"fmt"
	"regexp"

	"github.com/real-rm/supportchat/internal/constants"
)

var guestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidGuestID is returned for a guest id of the wrong length or alphabet
var ErrInvalidGuestID = fmt.Errorf("%w: invalid guest id", ErrUnauthenticated)

// JWTAuthenticator is the default Authenticator. A bearer token wins over a
// guest id; guests are accepted only when allowGuests is set.
type JWTAuthenticator struct {
	validator   *JWTValidator
	allowGuests bool
}

// NewJWTAuthenticator creates an authenticator backed by validator
func NewJWTAuthenticator(validator *JWTValidator, allowGuests bool) *JWTAuthenticator {
	return &JWTAuthenticator{validator: validator, allowGuests: allowGuests}
}

// Authenticate implements Authenticator
func (a *JWTAuthenticator) Authenticate(creds Credentials) (Identity, error) {
	if creds.Token != "" {
		claims, err := a.validator.ValidateToken(creds.Token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			ParticipantID:  claims.UserID,
			Role:           RoleFromClaims(claims.Roles),
			Name:           claims.Name,
			OrganizationID: claims.OrganizationID,
		}, nil
	}

	if creds.GuestID == "" {
		return Identity{}, fmt.Errorf("%w: no credentials", ErrUnauthenticated)
	}
	if !a.allowGuests {
		return Identity{}, fmt.Errorf("%w: guest access disabled", ErrUnauthenticated)
	}
	return GuestIdentity(creds.GuestID, creds.GuestName)
}

// GuestIdentity builds the identity of a guest customer. The stored id carries
// the guest prefix so it can never collide with a token subject.
func GuestIdentity(guestID, name string) (Identity, error) {
	if len(guestID) < constants.MinGuestIDLength || len(guestID) > constants.MaxGuestIDLength {
		return Identity{}, fmt.Errorf("%w: length must be %d-%d", ErrInvalidGuestID,
			constants.MinGuestIDLength, constants.MaxGuestIDLength)
	}
	if !guestIDPattern.MatchString(guestID) {
		return Identity{}, fmt.Errorf("%w: unexpected characters", ErrInvalidGuestID)
	}
	if name == "" {
		name = constants.DefaultGuestName
	}
	return Identity{
		ParticipantID: constants.GuestIDPrefix + guestID,
		Role:          RoleCustomer,
		Name:          name,
		IsGuest:       true,
	}, nil
}
