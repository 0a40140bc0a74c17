// Package session persists the single valid refresh token per user in
// Redis. The entry is the source of truth for refresh-token validity: a
// token that verifies cryptographically but is absent from (or mismatched
// with) the store must be rejected.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no refresh token is stored for the user (expired,
// deleted, or never written).
var ErrNotFound = errors.New("refresh session not found")

// ErrUnavailable means Redis could not answer. Callers must not treat this
// as "no session": it is a retryable infrastructure failure, not a
// revocation decision.
var ErrUnavailable = errors.New("session store unavailable")

const keyPrefix = "refresh_token:"

type Store struct {
	redis redis.UniversalClient
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

func (s *Store) key(userID string) string {
	return keyPrefix + userID
}

// Put upserts the user's refresh token, replacing any prior value and
// resetting the TTL. A second login therefore silently invalidates the
// first context's ability to refresh.
func (s *Store) Put(ctx context.Context, userID string, refreshToken string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(userID), refreshToken, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID string) (string, error) {
	value, err := s.redis.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// Delete removes the user's refresh token. Deleting an absent entry is not
// an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping reports point-in-time Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
