// Package sweeper periodically expires payments whose callback never came.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	lockKey    = "sweep:pending-payments"
	lockTTL    = 50 * time.Second
	runTimeout = 45 * time.Second
)

type Expirer interface {
	ExpireStalePayments(ctx context.Context, ttl time.Duration, batch int) (int, error)
}

// Locker elects one instance per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock takes key until ttl elapses. The lock is never released early, so
// a second instance ticking a moment later skips the same window.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

type Options struct {
	Schedule   string
	PendingTTL time.Duration
	BatchSize  int
}

type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	locker  Locker
	opts    Options
	logger  *zap.Logger
}

// New builds a sweeper. locker may be nil for a single instance.
func New(expirer Expirer, locker Locker, opts Options, logger *zap.Logger) *Sweeper {
	cronLogger := zapCronLogger{logger.Sugar()}
	return &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		expirer: expirer,
		locker:  locker,
		opts:    opts,
		logger:  logger,
	}
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.opts.Schedule, s.Run); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.opts.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("pending payment sweeper started",
		zap.String("schedule", s.opts.Schedule),
		zap.Duration("pending_ttl", s.opts.PendingTTL))
	return nil
}

// Stop halts scheduling. The returned context is done once a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Run performs one sweep.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, lockKey, lockTTL)
		if err != nil {
			s.logger.Warn("sweep lock unavailable, skipping tick", zap.Error(err))
			return
		}
		if !ok {
			s.logger.Debug("sweep running elsewhere")
			return
		}
	}

	n, err := s.expirer.ExpireStalePayments(ctx, s.opts.PendingTTL, s.opts.BatchSize)
	if err != nil {
		s.logger.Error("pending payment sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pending payments expired", zap.Int("count", n))
	}
}

type zapCronLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
