// Package redislock provides a leave.Locker backed by Redis so that several
// engine processes sharing one database serialize on the same keys.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/leave"
	"go.uber.org/zap"
)

const (
	DefaultTTL           = 10 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultMaxRetries    = 100
	DefaultPrefix        = "leave:lock:"
)

type Options struct {
	// TTL bounds how long a crashed holder blocks others.
	TTL           time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	Prefix        string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	return o
}

// Locker implements leave.Locker with bsm/redislock.
type Locker struct {
	client *redislock.Client
	opts   Options
	logger *zap.Logger
}

var _ leave.Locker = (*Locker)(nil)

func New(rdb *redis.Client, opts Options, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		client: redislock.New(rdb),
		opts:   opts.withDefaults(),
		logger: logger.Named("redislock"),
	}
}

// Options returns the effective options after defaults.
func (l *Locker) Options() Options { return l.opts }

// Lock obtains key, retrying at RetryInterval up to MaxRetries times. A key
// still held after that is reported as a RetryExhaustedError.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.opts.Prefix + key
	strategy := redislock.LimitRetry(redislock.LinearBackoff(l.opts.RetryInterval), l.opts.MaxRetries)

	lock, err := l.client.Obtain(ctx, redisKey, l.opts.TTL, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("could not obtain lock", zap.String("key", redisKey), zap.Int("max_retries", l.opts.MaxRetries))
		return nil, &leave.RetryExhaustedError{Key: key, Attempts: l.opts.MaxRetries + 1, Err: err}
	}
	if err != nil {
		l.logger.Error("error obtaining lock", zap.String("key", redisKey), zap.Error(err))
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(ctx, lock, redisKey) })
	}, nil
}

func (l *Locker) release(ctx context.Context, lock *redislock.Lock, redisKey string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.TTL)
	defer cancel()
	if err := lock.Release(releaseCtx); err != nil {
		// ErrLockNotHeld means the TTL expired while we held it
		l.logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
	}
}
