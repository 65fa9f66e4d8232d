package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftarb/internal/domain"
)

// releaseLua deletes the key only while it still holds our token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the key still holds our token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Lease is an exclusive, self-renewing lock. Live mode holds one per signing
// account so two instances never race on the same nonce.
type Lease struct {
	rdb     *redis.Client
	key     string
	token   string
	ttl     time.Duration
	release *redis.Script
	extend  *redis.Script
	logger  *slog.Logger

	once sync.Once
	stop chan struct{}
	lost chan struct{}
}

func leaseKey(name string) string {
	return "lock:" + name
}

// AcquireLease takes the named lock or returns domain.ErrLockHeld. The lease
// renews itself every ttl/3 until Release; Lost is closed if renewal finds
// the lock taken over or expired.
func AcquireLease(ctx context.Context, c *Client, name string, ttl time.Duration, logger *slog.Logger) (*Lease, error) {
	l := &Lease{
		rdb:     c.Underlying(),
		key:     leaseKey(name),
		token:   uuid.NewString(),
		ttl:     ttl,
		release: redis.NewScript(releaseLua),
		extend:  redis.NewScript(extendLua),
		logger:  logger.With(slog.String("component", "lease"), slog.String("lease", name)),
		stop:    make(chan struct{}),
		lost:    make(chan struct{}),
	}
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", name, domain.ErrLockHeld)
	}
	go l.renew()
	return l, nil
}

// Lost is closed when the lease can no longer be held.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) renew() {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := l.extend.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("lease renewal failed", slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				l.logger.Error("lease lost")
				close(l.lost)
				return
			}
		}
	}
}

// Release stops renewal and deletes the lock. It is safe to call more than
// once.
func (l *Lease) Release() {
	l.once.Do(func() {
		close(l.stop)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.release.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}
