// Package session ties the merchant's tokens, response cache and backend client to one
// lifecycle. Nothing here is package-level state; every process owns its Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/auth"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/cache"
)

var (
	ErrNotOpen     = errors.New("session is not open")
	ErrAlreadyOpen = errors.New("session is already open")
)

type Session struct {
	client *backend.Client
	tokens *auth.TokenSource
	cache  cache.Cache
	logger *slog.Logger

	mu     sync.Mutex
	open   bool
	cancel context.CancelFunc
	done   chan struct{}
}

func New(client *backend.Client, c cache.Cache, initial auth.Tokens, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	tokens := auth.NewTokenSource(client, initial, logger)
	client.SetTokenProvider(tokens)
	return &Session{
		client: client,
		tokens: tokens,
		cache:  c,
		logger: logger,
	}
}

// Open starts background token refresh and loads the merchant settings. The refresh
// loop lives until Close or until ctx is cancelled.
func (s *Session) Open(ctx context.Context) (*d.MerchantSettings, error) {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.open = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.tokens.Run(runCtx)
	}()

	settings, err := s.client.GetMerchantSettings(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load merchant settings: %w", err)
	}
	s.logger.Info("session opened",
		"tips_enabled", settings.TipsEnabled,
		"loyalty_enabled", settings.LoyaltyEnabled,
		"split_enabled", settings.SplitPaymentsEnabled)
	return settings, nil
}

// Settings returns the merchant settings, served from cache while fresh.
func (s *Session) Settings(ctx context.Context) (*d.MerchantSettings, error) {
	if !s.IsOpen() {
		return nil, ErrNotOpen
	}
	return s.client.GetMerchantSettings(ctx)
}

func (s *Session) Client() *backend.Client {
	return s.client
}

func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Close stops the refresh loop, forgets the tokens and drops cached responses. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.tokens.Clear()

	var errs []error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	s.logger.Info("session closed")
	return errors.Join(errs...)
}
