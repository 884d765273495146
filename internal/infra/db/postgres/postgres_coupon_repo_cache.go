package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"kassa-billing/internal/domain/model"
	"kassa-billing/internal/domain/ports/repository"
	"kassa-billing/internal/infra/metrics"
	red "kassa-billing/internal/infra/redis"
)

var _ repository.CouponRepository = (*couponRepoCacheDecorator)(nil)

// couponRepoCacheDecorator caches coupon lookups in Redis. Coupons change
// rarely but are read on every checkout and coupon-validation call.
type couponRepoCacheDecorator struct {
	inner repository.CouponRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewCouponRepoCacheDecorator(inner repository.CouponRepository, cache red.RedisClient, ttl time.Duration) repository.CouponRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &couponRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func (d *couponRepoCacheDecorator) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	key := fmt.Sprintf("coupon:%s", code)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("coupon", "hit")
		var c model.Coupon
		if json.Unmarshal([]byte(val), &c) == nil {
			return &c, nil
		}
	} else if err != redis.Nil {
		// Redis being down must not break checkout; fall through to DB.
	}

	metrics.IncCacheRequest("coupon", "miss")
	c, err := d.inner.FindByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if c != nil {
		bytes, _ := json.Marshal(c)
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return c, nil
}

// Save invalidates the cached entry.
func (d *couponRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	_ = d.cache.Del(ctx, fmt.Sprintf("coupon:%s", c.Code))
	return d.inner.Save(ctx, tx, c)
}
