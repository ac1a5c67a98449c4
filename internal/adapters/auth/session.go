package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var _ core.IdentityProvider = (*Session)(nil)

// Session is the signed-in user on the client side. The client never holds
// the signing secret, so the token is decoded without verification; the
// server verifies it on every connection.
type Session struct {
	mu      sync.RWMutex
	token   string
	user    domain.Identity
	expires time.Time
}

func NewSession(token string) (*Session, error) {
	s := &Session{}
	if err := s.SetToken(token); err != nil {
		return nil, err
	}
	return s, nil
}

// SetToken replaces the access token, e.g. after a renewal.
func (s *Session) SetToken(token string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("decode access token: %w", err)
	}
	id, err := claims.Identity()
	if err != nil {
		return fmt.Errorf("access token identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = *id
	s.expires = time.Time{}
	if claims.ExpiresAt != nil {
		s.expires = claims.ExpiresAt.Time
	}
	return nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt is zero for tokens without an expiry.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expires
}

func (s *Session) CurrentUser() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user.ID != ""
}
