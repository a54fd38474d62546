package auth

import (
	"errors"

	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/util"
)

// ErrUnauthenticated is returned by an Authenticator when the credentials do not
// identify a participant. Every other auth error wraps it.
var ErrUnauthenticated = errors.New("unauthenticated")

// Role is a participant's role in the chat system
type Role string

const (
	RoleCustomer Role = constants.RoleCustomer
	RoleAgent    Role = constants.RoleAgent
	RoleAdmin    Role = constants.RoleAdmin
)

// IsStaff reports whether r receives queue broadcasts (agents and admins)
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent || r == RoleAdmin
}

// Identity is an authenticated participant. ParticipantID is stable across
// reconnects: guests keep the id their client generated, everyone else gets
// the id from their token.
type Identity struct {
	ParticipantID  string
	Role           Role
	Name           string
	OrganizationID string
	IsGuest        bool
}

// DisplayName returns Name, falling back to the participant id
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ParticipantID
}

// Credentials are what a client presents when connecting
type Credentials struct {
	Token     string // bearer token, may be empty for guests
	GuestID   string // client generated guest id, without prefix
	GuestName string
}

// Authenticator resolves credentials to an identity. Implementations return an
// error wrapping ErrUnauthenticated on failure.
type Authenticator interface {
	Authenticate(creds Credentials) (Identity, error)
}

// RoleFromClaims maps token roles to a chat role. The most privileged role wins.
func RoleFromClaims(roles []string) Role {
	switch {
	case util.HasRole(roles, constants.RoleAdmin, constants.RoleChatAdmin):
		return RoleAdmin
	case util.HasRole(roles, constants.RoleAgent, constants.RoleSupport):
		return RoleAgent
	default:
		return RoleCustomer
	}
}
