package auth

import (
	"context"
	"sync"

	"auction-client/internal/domain"
)

// TokenProvider is the auth capability this SDK consumes. It either hands
// out a valid bearer token or fails; the actual authentication protocol
// lives behind RefreshFunc on the backend side.
type TokenProvider interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// RefreshFunc exchanges a refresh token for a new token pair. The refresh
// token in the result may be empty when the backend does not rotate it.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// Session holds the current token pair for one signed-in user.
type Session struct {
	mu      sync.RWMutex
	userID  string
	access  string
	refresh string

	refreshFn RefreshFunc
}

func NewSession(userID, access, refresh string, fn RefreshFunc) *Session {
	return &Session{
		userID:    userID,
		access:    access,
		refresh:   refresh,
		refreshFn: fn,
	}
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Refresh exchanges the refresh token for a fresh pair and stores it.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	fn := s.refreshFn
	refresh := s.refresh
	s.mu.RUnlock()

	if fn == nil || refresh == "" {
		return domain.ErrAuthExpired
	}

	access, newRefresh, err := fn(ctx, refresh)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.access = access
	if newRefresh != "" {
		s.refresh = newRefresh
	}
	s.mu.Unlock()
	return nil
}

// SetTokens replaces the stored pair, e.g. after an interactive login.
func (s *Session) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
}

// Clear drops the stored tokens on logout.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
}
