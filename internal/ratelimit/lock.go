package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "chargeflow:lock:"

// Both scripts act only while the key still holds the caller's token, so an
// expired lease never touches a lock another holder took since.
const (
	releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
	extendLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`
)

var (
	ErrLockNotConfigured = errors.New("lock client not configured")
	ErrLockKeyEmpty      = errors.New("lock key is empty")
	ErrLockTTL           = errors.New("lock ttl must be positive")
)

// Locker hands out redis leases that coordinate charging work across
// replicas: the reconciliation tick and SDR inclusion per purchase.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	extend  *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseLeaseScript),
		extend:  redis.NewScript(extendLeaseScript),
	}
}

// Lease is a held lock. A nil lease is valid and releases nothing.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// LockKey namespaces a lock name under the service prefix.
func LockKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return lockKeyPrefix + strings.Join(cleaned, ":")
}

// Acquire takes the lock for ttl. ok is false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, ErrLockNotConfigured
	}
	if key == "" {
		return nil, false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return nil, false, ErrLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{locker: l, key: key, token: token}, true, nil
}

func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

// Extend pushes the expiry out to ttl from now. It reports false when the
// lease already expired and was lost.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if l == nil {
		return true, nil
	}
	if ttl <= 0 {
		return false, ErrLockTTL
	}
	n, err := l.locker.extend.Run(ctx, l.locker.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.locker.release.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
