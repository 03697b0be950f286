package banksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	gc "famfin/internal/infrastructure/gocardless"
)

// DefaultTokenSkew is subtracted from every expiry so a token is never used
// in its final seconds.
const DefaultTokenSkew = 30 * time.Second

// Token is the cached aggregator credential pair.
type Token struct {
	Access           string    `json:"access"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	Refresh          string    `json:"refresh"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenStore persists the cached token. Load returns (nil, nil) when empty.
type TokenStore interface {
	Load(ctx context.Context) (*Token, error)
	Save(ctx context.Context, tok *Token) error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu  sync.Mutex
	tok *Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, nil
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tok = &cp
	return nil
}

// TokenManager hands out a valid access token. Only one caller at a time may
// inspect or renew the cached token; the others wait for it and then reuse
// the renewed value.
type TokenManager struct {
	client    gc.ClientInterface
	secretID  string
	secretKey string
	store     TokenStore
	skew      time.Duration
	now       func() time.Time
	logger    *zap.Logger

	sem chan struct{}
}

func NewTokenManager(client gc.ClientInterface, secretID, secretKey string, store TokenStore, logger *zap.Logger) *TokenManager {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &TokenManager{
		client:    client,
		secretID:  secretID,
		secretKey: secretKey,
		store:     store,
		skew:      DefaultTokenSkew,
		now:       time.Now,
		logger:    logger.Named("token"),
		sem:       make(chan struct{}, 1),
	}
}

// AccessToken returns the cached token while it is valid, otherwise renews it
// with the refresh token or, failing that, the secret pair. Errors wrap
// ErrTokenUnavailable.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, ctx.Err())
	}
	defer func() { <-m.sem }()

	tok, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("token store load failed, requesting a new token", zap.Error(err))
		tok = nil
	}

	now := m.now()
	if tok != nil && tok.Access != "" && now.Before(tok.AccessExpiresAt.Add(-m.skew)) {
		return tok.Access, nil
	}

	if tok != nil && tok.Refresh != "" && now.Before(tok.RefreshExpiresAt.Add(-m.skew)) {
		refreshed, err := m.client.RefreshToken(ctx, tok.Refresh)
		if err == nil {
			tok.Access = refreshed.Access
			tok.AccessExpiresAt = now.Add(time.Duration(refreshed.AccessExpires) * time.Second)
			m.save(ctx, tok)
			return tok.Access, nil
		}
		m.logger.Warn("token refresh failed, requesting a new token", zap.Error(err))
	}

	pair, err := m.client.NewToken(ctx, m.secretID, m.secretKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	tok = &Token{
		Access:           pair.Access,
		AccessExpiresAt:  now.Add(time.Duration(pair.AccessExpires) * time.Second),
		Refresh:          pair.Refresh,
		RefreshExpiresAt: now.Add(time.Duration(pair.RefreshExpires) * time.Second),
	}
	m.save(ctx, tok)
	m.logger.Debug("obtained new access token", zap.Time("expires_at", tok.AccessExpiresAt))
	return tok.Access, nil
}

func (m *TokenManager) save(ctx context.Context, tok *Token) {
	if err := m.store.Save(ctx, tok); err != nil {
		m.logger.Warn("token store save failed", zap.Error(err))
	}
}
