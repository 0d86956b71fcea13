// Package otp stores one-time login codes in Redis. The key TTL is the
// expiry: an expired code is simply gone, so it can never verify.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Generate creates a 6-digit code for the phone number, replacing any code
// already outstanding for it.
func (s *Store) Generate(ctx context.Context, phoneNumber string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64()+100000)

	if err := s.rdb.Set(ctx, key(phoneNumber), code, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store otp: %w", err)
	}
	return code, nil
}

// Verify checks the code and consumes it on success. A missing key means
// the code expired or was never issued; both verify as false.
func (s *Store) Verify(ctx context.Context, phoneNumber, code string) (bool, error) {
	stored, err := s.rdb.Get(ctx, key(phoneNumber)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read otp: %w", err)
	}
	if stored != code {
		return false, nil
	}

	if err := s.rdb.Del(ctx, key(phoneNumber)).Err(); err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return true, nil
}

func key(phoneNumber string) string {
	return "otp:" + phoneNumber
}
