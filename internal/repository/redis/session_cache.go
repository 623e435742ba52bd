package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"webgrave/internal/client"
	"webgrave/internal/util"
)

const (
	revokedTokenPrefix  = "revoked_token:"
	revokedBeforePrefix = "revoked_before:"
)

// SessionCache tracks revoked session tokens. Tokens are stateless JWTs, so
// only revocations are stored, each for no longer than the token could live.
type SessionCache struct {
	client   *client.RedisClient
	tokenTTL time.Duration
}

func NewSessionCache(client *client.RedisClient, tokenTTL time.Duration) *SessionCache {
	return &SessionCache{client: client, tokenTTL: tokenTTL}
}

// RevokeToken blacklists a single token id until expiresAt.
func (c *SessionCache) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Client.Set(ctx, revokedTokenPrefix+tokenID, "1", ttl).Err(); err != nil {
		util.Error("Failed to revoke token", util.String("jti", tokenID), util.ErrorField(err))
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// RevokeAllForAccount invalidates every token the account was issued before
// at. The cutoff is stored in Unix milliseconds.
func (c *SessionCache) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error {
	err := c.client.Client.Set(ctx, revokedBeforePrefix+accountID,
		strconv.FormatInt(at.UnixMilli(), 10), c.tokenTTL).Err()
	if err != nil {
		util.Error("Failed to revoke account sessions", util.AccountID(accountID), util.ErrorField(err))
		return fmt.Errorf("failed to revoke account sessions: %w", err)
	}
	return nil
}

// IsRevoked reports whether the token was revoked individually or by an
// account-wide revocation issued after it.
func (c *SessionCache) IsRevoked(ctx context.Context, tokenID, accountID string, issuedAt time.Time) (bool, error) {
	pipe := c.client.Client.Pipeline()
	single := pipe.Exists(ctx, revokedTokenPrefix+tokenID)
	before := pipe.Get(ctx, revokedBeforePrefix+accountID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}

	if single.Val() > 0 {
		return true, nil
	}
	if raw, err := before.Result(); err == nil {
		cutoff, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr == nil && issuedAt.UnixMilli() < cutoff {
			return true, nil
		}
	}
	return false, nil
}
