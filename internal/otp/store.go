package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps at most one outstanding code per email.
type Store interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	// Check consumes the code when it matches. Wrong guesses count against
	// maxAttempts, after which the code is discarded.
	Check(ctx context.Context, email, code string, maxAttempts int) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func codeKey(email string) string {
	return "otp:" + email
}

func (s *RedisStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	key := codeKey(email)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", code, "attempts", 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

// checkScript compares and consumes in one step. Results: 0 match, 1 missing,
// 2 attempts exhausted, 3 mismatch.
var checkScript = redis.NewScript(`
local code = redis.call("HGET", KEYS[1], "code")
if not code then
  return 1
end
local max = tonumber(ARGV[2])
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts") or "0")
if attempts >= max then
  redis.call("DEL", KEYS[1])
  return 2
end
if code == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 0
end
attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts >= max then
  redis.call("DEL", KEYS[1])
  return 2
end
return 3
`)

func (s *RedisStore) Check(ctx context.Context, email, code string, maxAttempts int) error {
	res, err := checkScript.Run(ctx, s.client, []string{codeKey(email)}, code, maxAttempts).Int()
	if err != nil {
		return fmt.Errorf("check otp: %w", err)
	}

	switch res {
	case 0:
		return nil
	case 1:
		return ErrCodeExpired
	case 2:
		return ErrTooManyAttempts
	default:
		return ErrCodeMismatch
	}
}
