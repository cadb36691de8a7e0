package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

var errLeaseLost = errors.New("lock lease taken over by another holder")

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis wraps the go-redis client and hands out leases stored in it.
type Redis struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}

	return &Redis{Client: client, logger: logger}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Lock is a single-holder lease stored under one key. It keeps two
// overlapping sweeps (scheduled and manual, or two replicas) apart.
type Lock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLock builds a lease on key. While held, the lease is renewed every
// third of ttl.
func (r *Redis) NewLock(key string, ttl time.Duration) *Lock {
	l := &Lock{key: key, ttl: ttl, logger: zap.NewNop()}
	if r != nil && r.Client != nil {
		l.client = r.Client
	}
	if r != nil && r.logger != nil {
		l.logger = r.logger
	}
	return l
}

// TryLock acquires the lease without waiting. ok is false when someone else
// holds it. held is cancelled if the lease is lost before release is called.
func (l *Lock) TryLock(ctx context.Context) (held context.Context, release func(), ok bool, err error) {
	if l == nil || l.client == nil {
		return nil, nil, false, errors.New("redis client not configured")
	}
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, err
	}
	if !acquired {
		return nil, nil, false, nil
	}

	held, lose := context.WithCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepLease(stop, l.ttl, func() (bool, error) {
			return l.renew(token)
		}, func(err error) {
			l.logger.Warn("lock lease lost", zap.String("key", l.key), zap.Error(err))
			lose()
		})
	}()

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			lose()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
				l.logger.Warn("lock release failed", zap.String("key", l.key), zap.Error(err))
			}
		})
	}
	return held, release, true, nil
}

func (l *Lock) renew(token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
	defer cancel()
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepLease calls renew every ttl/3 until stop is closed. onLost fires once
// and the loop ends when renew reports the lease gone, or when renewals keep
// failing for a full ttl.
func keepLease(stop <-chan struct{}, ttl time.Duration, renew func() (bool, error), onLost func(error)) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ok, err := renew()
			switch {
			case err == nil && ok:
				lastRenewed = time.Now()
			case err == nil:
				onLost(errLeaseLost)
				return
			case time.Since(lastRenewed) >= ttl:
				onLost(err)
				return
			}
		}
	}
}
