package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a distributed Locker: SET NX PX with a random token, released by
// a compare-and-delete script. While a lease is held it is extended every
// ttl/3 so long passes keep the lock.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets the lease expiry. Defaults to one minute.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for lease refresh failures.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRedis creates a distributed locker on key.
func NewRedis(client redis.UniversalClient, key string, opts ...RedisOption) *Redis {
	if client == nil {
		panic("lock: redis client is required")
	}
	if key == "" {
		panic("lock: key is required")
	}
	r := &Redis{
		client: client,
		key:    key,
		ttl:    time.Minute,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TryLock acquires the key or returns ErrNotAcquired.
func (r *Redis) TryLock(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.Join(ErrBackend, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lease := &redisLease{
		locker: r,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepAlive(refreshCtx)
	return lease, nil
}

type redisLease struct {
	locker *Redis
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *redisLease) keepAlive(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(max(l.locker.ttl/3, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, l.locker.client, []string{l.locker.key},
				l.token, l.locker.ttl.Milliseconds()).Int()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				l.locker.logger.WarnContext(ctx, "failed to extend lock lease",
					slog.String("key", l.locker.key), logger.Error(err))
				continue
			}
			if n == 0 {
				l.locker.logger.ErrorContext(ctx, "lock lease lost",
					slog.String("key", l.locker.key))
				return
			}
		}
	}
}

// Release stops the refresher and deletes the key if this lease still owns it.
func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		<-l.done

		n, runErr := releaseScript.Run(ctx, l.locker.client, []string{l.locker.key}, l.token).Int()
		switch {
		case runErr != nil:
			err = errors.Join(ErrBackend, runErr)
		case n == 0:
			err = ErrLeaseLost
		}
	})
	return err
}
