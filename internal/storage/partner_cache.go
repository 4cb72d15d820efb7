package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedResolver keeps positive partner lookups in Redis.
// Redis failures are logged and fall through to the wrapped resolver.
type CachedResolver struct {
	next PartnerResolver
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedResolver(next PartnerResolver, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedResolver {
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, log: log}
}

func partnerKey(userID int64) string { return fmt.Sprintf("chat:partner:%d", userID) }
func spaceKey(userID int64) string   { return fmt.Sprintf("chat:space:%d", userID) }

func (c *CachedResolver) PartnerOf(ctx context.Context, userID int64) (int64, bool, error) {
	return c.lookup(ctx, partnerKey(userID), userID, c.next.PartnerOf)
}

func (c *CachedResolver) ChannelOf(ctx context.Context, userID int64) (int64, bool, error) {
	return c.lookup(ctx, spaceKey(userID), userID, c.next.ChannelOf)
}

// Invalidate drops the cached entries of userID, e.g. after re-pairing.
func (c *CachedResolver) Invalidate(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, partnerKey(userID), spaceKey(userID)).Err()
}

func (c *CachedResolver) lookup(
	ctx context.Context,
	key string,
	userID int64,
	load func(context.Context, int64) (int64, bool, error),
) (int64, bool, error) {
	cached, err := c.rdb.Get(ctx, key).Int64()
	switch {
	case err == nil:
		return cached, true, nil
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("Partner cache read failed", "key", key, "err", err)
	}

	value, ok, err := load(ctx, userID)
	if err != nil || !ok {
		return value, ok, err
	}

	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn("Partner cache write failed", "key", key, "err", err)
	}
	return value, true, nil
}
