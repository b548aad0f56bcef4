package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")
)

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

type RefresherFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// TokenSource holds the merchant's bearer tokens. It refreshes ahead of expiry and on
// demand after a 401; concurrent refreshes collapse into one call.
type TokenSource struct {
	mu        sync.RWMutex
	tokens    Tokens
	expiresAt time.Time

	refresher Refresher
	skew      time.Duration
	sfg       singleflight.Group
	now       func() time.Time
	logger    *slog.Logger
}

func NewTokenSource(refresher Refresher, initial Tokens, logger *slog.Logger) *TokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TokenSource{
		refresher: refresher,
		skew:      time.Minute,
		now:       time.Now,
		logger:    logger,
	}
	s.store(initial)
	return s
}

// Token returns a usable access token, refreshing first when the current one is about
// to expire.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, exp := s.tokens.AccessToken, s.expiresAt
	s.mu.RUnlock()

	if token != "" && (exp.IsZero() || s.now().Add(s.skew).Before(exp)) {
		return token, nil
	}
	return s.refresh(ctx, token)
}

// ForceRefresh is called after the server rejected stale. If another caller already
// replaced it, the newer token is returned without another round trip.
func (s *TokenSource) ForceRefresh(ctx context.Context, stale string) (string, error) {
	s.mu.RLock()
	current := s.tokens.AccessToken
	s.mu.RUnlock()
	if current != "" && current != stale {
		return current, nil
	}
	return s.refresh(ctx, stale)
}

// refresh replaces stale. A caller that lost the race to a completed refresh gets the
// replacement without another round trip.
func (s *TokenSource) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := s.sfg.Do("refresh", func() (interface{}, error) {
		s.mu.RLock()
		current, refreshToken := s.tokens.AccessToken, s.tokens.RefreshToken
		s.mu.RUnlock()
		if current != "" && current != stale {
			return current, nil
		}
		if refreshToken == "" {
			return "", ErrNoRefreshToken
		}

		next, err := s.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
		if next.RefreshToken == "" {
			next.RefreshToken = refreshToken
		}
		s.store(next)
		s.logger.DebugContext(ctx, "access token refreshed", "expires_at", s.ExpiresAt())
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Run refreshes the access token shortly before it expires until ctx is done. Tokens
// without a readable expiry are only refreshed on demand.
func (s *TokenSource) Run(ctx context.Context) {
	for {
		wait := time.Hour
		if exp := s.ExpiresAt(); !exp.IsZero() {
			wait = exp.Sub(s.now()) - s.skew
		}
		if wait < time.Second {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if exp := s.ExpiresAt(); exp.IsZero() || s.now().Add(s.skew).Before(exp) {
			continue
		}
		s.mu.RLock()
		current := s.tokens.AccessToken
		s.mu.RUnlock()
		if _, err := s.refresh(ctx, current); err != nil && ctx.Err() == nil {
			s.logger.Warn("background token refresh failed", "error", err.Error())
		}
	}
}

func (s *TokenSource) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Clear drops both tokens, e.g. on session close.
func (s *TokenSource) Clear() {
	s.store(Tokens{})
}

func (s *TokenSource) store(t Tokens) {
	exp, err := ExpiryOf(t.AccessToken)
	if err != nil && t.AccessToken != "" {
		s.logger.Debug("access token expiry unreadable", "error", err.Error())
	}
	s.mu.Lock()
	s.tokens = t
	s.expiresAt = exp
	s.mu.Unlock()
}

// ExpiryOf reads the exp claim without verifying the signature; the token is issued by
// the backend and only the backend verifies it. Opaque tokens yield a zero time.
func ExpiryOf(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
