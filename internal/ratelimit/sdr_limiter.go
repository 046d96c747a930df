package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/chargeflow/internal/config"
)

const (
	keySDRCustomer = "chargeflow:sdr:customer:"

	defaultSDRLockTTL = 10 * time.Second
)

// SDRLimiter throttles usage record inclusion per customer and serialises
// inclusions on one purchase across API replicas.
type SDRLimiter struct {
	bucket  *TokenBucket
	locker  *Locker
	lockTTL time.Duration
}

func NewSDRLimiter(cfg config.Config, client *redis.Client, locker *Locker) (*SDRLimiter, error) {
	if client == nil {
		return nil, nil
	}
	limitCfg := cfg.SDRRateLimit
	if limitCfg.Rate <= 0 || limitCfg.Burst <= 0 {
		return nil, errors.New("sdr rate limit must be positive")
	}
	bucket, err := NewTokenBucket(client, limitCfg.Rate, limitCfg.Burst)
	if err != nil {
		return nil, err
	}
	if locker == nil {
		locker = NewLocker(client)
	}

	return &SDRLimiter{
		bucket:  bucket,
		locker:  locker,
		lockTTL: defaultSDRLockTTL,
	}, nil
}

func (l *SDRLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *SDRLimiter) AllowCustomer(ctx context.Context, customer string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, sdrCustomerKey(customer))
}

// LockPurchase takes the per-purchase inclusion lease. A disabled limiter
// always grants it with a nil lease.
func (l *SDRLimiter) LockPurchase(ctx context.Context, purchaseID string) (*Lease, bool, error) {
	if !l.Enabled() {
		return nil, true, nil
	}
	return l.locker.Acquire(ctx, sdrPurchaseLockKey(purchaseID), l.lockTTL)
}

func sdrCustomerKey(customer string) string {
	return keySDRCustomer + strings.TrimSpace(customer)
}

func sdrPurchaseLockKey(purchaseID string) string {
	return LockKey("sdr", "purchase", purchaseID)
}
