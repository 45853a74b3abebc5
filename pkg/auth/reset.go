package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis key shapes for password-reset state. The token key is the one-shot
// lookup; the user key tracks the user's current outstanding token so
// issuing a new one retires the old; the rate key counts requests within
// the rolling window.
const (
	resetTokenKeyPrefix = "password_reset:token:"
	resetUserKeyPrefix  = "password_reset:user:"
	resetRateKeyPrefix  = "password_reset:rate:"
)

// ResetManager issues and consumes one-shot password-reset tokens backed
// by Redis TTLs.
type ResetManager struct {
	client     *redis.Client
	tokenTTL   time.Duration
	maxPerUser int
	window     time.Duration
}

// NewResetManager builds a manager. maxPerUser requests are allowed per
// user per window; further requests are silently declined.
func NewResetManager(client *redis.Client, tokenTTL time.Duration, maxPerUser int, window time.Duration) *ResetManager {
	return &ResetManager{client: client, tokenTTL: tokenTTL, maxPerUser: maxPerUser, window: window}
}

// Issue creates a reset token for the user. It returns ("", nil) when the
// user is over the rate limit, so callers cannot distinguish a declined
// request from a successful one without the token itself. Any previously
// outstanding token for the user is retired.
func (m *ResetManager) Issue(ctx context.Context, userID int64) (string, error) {
	over, err := m.overLimit(ctx, userID)
	if err != nil {
		return "", err
	}
	if over {
		return "", nil
	}

	userKey := resetUserKeyPrefix + strconv.FormatInt(userID, 10)
	if old, err := m.client.Get(ctx, userKey).Result(); err == nil && old != "" {
		if err := m.client.Del(ctx, resetTokenKeyPrefix+old).Err(); err != nil {
			return "", fmt.Errorf("retire previous reset token: %w", err)
		}
	} else if err != nil && err != redis.Nil {
		return "", fmt.Errorf("lookup previous reset token: %w", err)
	}

	token, err := generateOpaqueToken()
	if err != nil {
		return "", err
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, resetTokenKeyPrefix+token, strconv.FormatInt(userID, 10), m.tokenTTL)
	pipe.Set(ctx, userKey, token, m.tokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

func (m *ResetManager) overLimit(ctx context.Context, userID int64) (bool, error) {
	rateKey := resetRateKeyPrefix + strconv.FormatInt(userID, 10)
	pipe := m.client.TxPipeline()
	count := pipe.Incr(ctx, rateKey)
	pipe.Expire(ctx, rateKey, m.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count reset requests: %w", err)
	}
	return count.Val() > int64(m.maxPerUser), nil
}

// Consume redeems a token exactly once and returns the user it belongs to.
// GETDEL makes concurrent redemptions of the same token yield one winner.
func (m *ResetManager) Consume(ctx context.Context, token string) (int64, error) {
	val, err := m.client.GetDel(ctx, resetTokenKeyPrefix+token).Result()
	if err == redis.Nil {
		return 0, ErrResetTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("consume reset token: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse reset token payload: %w", err)
	}
	if err := m.client.Del(ctx, resetUserKeyPrefix+val).Err(); err != nil {
		return 0, fmt.Errorf("clear reset token index: %w", err)
	}
	return userID, nil
}
