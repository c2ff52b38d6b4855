package redisx

import (
	"context"
	"errors"
	"github.com/redis/go-redis/v9"
	"strconv"
)

// IdempotencyCache maps (owner, Idempotency-Key) to the created order id.
// The database index stays authoritative; this only saves a transaction.
type IdempotencyCache struct{ RDB redis.Cmdable }

func (c *IdempotencyCache) Lookup(ctx context.Context, ownerID int64, key string) (int64, bool, error) {
	v, err := c.RDB.Get(ctx, IdemOrderCreateKey(ownerID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (c *IdempotencyCache) Remember(ctx context.Context, ownerID int64, key string, orderID int64) error {
	return c.RDB.Set(ctx, IdemOrderCreateKey(ownerID, key), orderID, TTLIdempotency).Err()
}

// Deduper remembers processed event ids for one consumer.
type Deduper struct {
	RDB     redis.Cmdable
	Service string
}

// Claim marks eventID as taken. It returns false when another delivery of
// the same event already claimed it.
func (d *Deduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, DedupKey(d.Service, eventID), 1, TTLDedup).Result()
}

// Release forgets eventID so a failed delivery can be processed again.
func (d *Deduper) Release(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, DedupKey(d.Service, eventID)).Err()
}
