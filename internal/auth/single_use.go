package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Valkey key pattern: sso_consumed:{hash(token)} -> "1" (STRING with TTL matching the token's
// remaining lifetime). Presence of the key means the token was already exchanged.

func ssoConsumedKey(tokenHash string) string {
	return "sso_consumed:" + tokenHash
}

// HashSSOToken returns the hex-encoded SHA-256 digest of an SSO exchange token, used as the cache
// key so the raw token value is never stored.
func HashSSOToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConsumeSSOToken atomically marks an SSO exchange token as used. It returns ErrTokenConsumed if
// the token was already presented once before. ttl should be set to the token's remaining lifetime
// so the burn record does not outlive a token that could never be replayed again anyway.
func ConsumeSSOToken(ctx context.Context, rdb *redis.Client, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := ssoConsumedKey(HashSSOToken(token))

	ok, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("record sso token consumption: %w", err)
	}
	if !ok {
		return ErrTokenConsumed
	}
	return nil
}
