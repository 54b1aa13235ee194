// Package session stores short-lived per-user state: the publish
// confirmation preference of editor sessions and revoked access tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// preferenceTTL keeps "don't ask again" for a month of inactivity.
	preferenceTTL = 30 * 24 * time.Hour
	prefPrefix    = "carta:pref:skip-publish-confirm:"
	revokedPrefix = "carta:revoked:"
)

// RedisStore implements session storage using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SkipPublishConfirm reports whether scope chose not to be asked again
// before publishing. Reading refreshes the expiry.
func (s *RedisStore) SkipPublishConfirm(ctx context.Context, scope string) (bool, error) {
	key := prefPrefix + scope
	_, err := s.client.GetEx(ctx, key, preferenceTTL).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read publish preference: %w", err)
	}
	return true, nil
}

func (s *RedisStore) RememberSkipPublishConfirm(ctx context.Context, scope string) error {
	if err := s.client.Set(ctx, prefPrefix+scope, "1", preferenceTTL).Err(); err != nil {
		return fmt.Errorf("save publish preference: %w", err)
	}
	return nil
}

// RevokeAccessToken blocks jti until the token would have expired anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
