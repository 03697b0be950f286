// Package redis shares the aggregator token between API and admin processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"famfin/internal/domain/banksync"

	"github.com/go-redis/redis/v7"
)

const tokenKey = "gocardless:token"

// TokenStore implements banksync.TokenStore on a Redis string key that expires
// together with the refresh token.
type TokenStore struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewTokenStore(client *redis.Client, keyPrefix string) *TokenStore {
	return &TokenStore{client: client, key: keyPrefix + tokenKey, now: time.Now}
}

// Connect opens a client and verifies it with PING.
func Connect(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *TokenStore) Load(ctx context.Context) (*banksync.Token, error) {
	raw, err := s.client.WithContext(ctx).Get(s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	var tok banksync.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}

func (s *TokenStore) Save(ctx context.Context, tok *banksync.Token) error {
	ttl := expiry(tok, s.now())
	if ttl <= 0 {
		return s.client.WithContext(ctx).Del(s.key).Err()
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.client.WithContext(ctx).Set(s.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// expiry is the time until the later of the two token deadlines.
func expiry(tok *banksync.Token, now time.Time) time.Duration {
	deadline := tok.AccessExpiresAt
	if tok.RefreshExpiresAt.After(deadline) {
		deadline = tok.RefreshExpiresAt
	}
	return deadline.Sub(now)
}
