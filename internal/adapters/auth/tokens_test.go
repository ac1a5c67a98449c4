package auth

import (
	"testing"
	"time"

	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var alice = domain.Identity{ID: "alice", DisplayName: "Alice", PhotoURL: "https://img.example/a.png"}

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := GenerateAccessToken(alice, secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateAccessToken(tok, secret)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.UserID)
	require.Equal(t, "alice", claims.Subject)
	require.NotEmpty(t, claims.ID)

	id, err := claims.Identity()
	require.NoError(t, err)
	require.Equal(t, alice, *id)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tok, err := GenerateAccessToken(alice, secret, time.Hour)
	require.NoError(t, err)
	_, err = ValidateAccessToken(tok, "other")
	require.ErrorIs(t, err, jwt.ErrSignatureInvalid)
}

func TestValidateRejectsExpired(t *testing.T) {
	tok, err := GenerateAccessToken(alice, secret, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateAccessToken(tok, secret)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateRejectsNoneAlg(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "alice"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateAccessToken(tok, secret)
	require.Error(t, err)
}

func TestSessionCurrentUser(t *testing.T) {
	tok, err := GenerateAccessToken(alice, secret, time.Hour)
	require.NoError(t, err)

	s, err := NewSession(tok)
	require.NoError(t, err)
	user, ok := s.CurrentUser()
	require.True(t, ok)
	require.Equal(t, alice, user)
	require.Equal(t, tok, s.Token())
	require.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt(), 5*time.Second)

	bob := domain.Identity{ID: "bob", DisplayName: "Bob"}
	tok2, err := GenerateAccessToken(bob, secret, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.SetToken(tok2))
	user, _ = s.CurrentUser()
	require.Equal(t, bob, user)
}

func TestSessionRejectsGarbage(t *testing.T) {
	_, err := NewSession("not-a-jwt")
	require.Error(t, err)

	tok, err := GenerateAccessToken(domain.Identity{}, secret, time.Hour)
	require.NoError(t, err)
	_, err = NewSession(tok)
	require.ErrorIs(t, err, domain.ErrUserIDEmpty)
}
