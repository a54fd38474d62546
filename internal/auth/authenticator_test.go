package auth

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticator_Token(t *testing.T) {
	a := NewJWTAuthenticator(NewJWTValidator(testSecret), true)

	id, err := a.Authenticate(Credentials{
		Token:   signToken(t, testSecret, baseClaims("admin-1", "admin")),
		GuestID: "ignored-guest-id",
	})
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id.ParticipantID)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.False(t, id.IsGuest)
	assert.Equal(t, "admin-1", id.DisplayName())
}

func TestJWTAuthenticator_BadTokenDoesNotFallBackToGuest(t *testing.T) {
	a := NewJWTAuthenticator(NewJWTValidator(testSecret), true)

	_, err := a.Authenticate(Credentials{Token: "bad", GuestID: "guest-abcdef12"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_Guest(t *testing.T) {
	a := NewJWTAuthenticator(NewJWTValidator(testSecret), true)

	id, err := a.Authenticate(Credentials{GuestID: "b7c1e0d2-4f", GuestName: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, "guest:b7c1e0d2-4f", id.ParticipantID)
	assert.Equal(t, RoleCustomer, id.Role)
	assert.True(t, id.IsGuest)
	assert.Equal(t, "Sam", id.Name)

	id, err = a.Authenticate(Credentials{GuestID: "b7c1e0d2-4f"})
	require.NoError(t, err)
	assert.Equal(t, "Guest", id.Name)
}

func TestJWTAuthenticator_GuestRejected(t *testing.T) {
	open := NewJWTAuthenticator(NewJWTValidator(testSecret), true)
	closed := NewJWTAuthenticator(NewJWTValidator(testSecret), false)

	_, err := closed.Authenticate(Credentials{GuestID: "valid-guest-id"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = open.Authenticate(Credentials{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	for _, bad := range []string{"short", strings.Repeat("x", 65), "has space 123", "semi;colon123", "guest:prefixed"} {
		_, err = open.Authenticate(Credentials{GuestID: bad})
		assert.ErrorIs(t, err, ErrInvalidGuestID, bad)
	}
}

// Guest ids are stable: the same client id always yields the same participant.
func TestProperty_GuestIdentityStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("same guest id yields same participant", prop.ForAll(
		func(id string) bool {
			a, errA := GuestIdentity(id, "")
			b, errB := GuestIdentity(id, "other name")
			return errA == nil && errB == nil && a.ParticipantID == b.ParticipantID && a.IsGuest
		},
		gen.RegexMatch(`^[a-z0-9]{8,32}$`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
