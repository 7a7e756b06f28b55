package sweeper

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExpirer struct {
	calls atomic.Int32
	ttl   time.Duration
	batch int
	err   error
	panic bool
}

func (f *fakeExpirer) ExpireStalePayments(_ context.Context, ttl time.Duration, batch int) (int, error) {
	f.calls.Add(1)
	if f.panic {
		panic("sweep exploded")
	}
	f.ttl, f.batch = ttl, batch
	return 3, f.err
}

type fakeLocker struct {
	ok  bool
	err error
}

func (f fakeLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return f.ok, f.err
}

var opts = Options{Schedule: "@every 1s", PendingTTL: 10 * time.Minute, BatchSize: 50}

func TestSweeper_Run(t *testing.T) {
	tests := []struct {
		name      string
		locker    Locker
		wantCalls int32
	}{
		{"single instance", nil, 1},
		{"lock acquired", fakeLocker{ok: true}, 1},
		{"lock held elsewhere", fakeLocker{ok: false}, 0},
		{"lock error", fakeLocker{err: errors.New("redis down")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &fakeExpirer{}
			New(exp, tt.locker, opts, zap.NewNop()).Run()
			assert.Equal(t, tt.wantCalls, exp.calls.Load())
			if tt.wantCalls > 0 {
				assert.Equal(t, 10*time.Minute, exp.ttl)
				assert.Equal(t, 50, exp.batch)
			}
		})
	}
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeExpirer{}, nil, Options{Schedule: "every now and then"}, zap.NewNop())
	assert.Error(t, s.Start())
}

func TestSweeper_RecoversPanics(t *testing.T) {
	exp := &fakeExpirer{panic: true}
	s := New(exp, nil, opts, zap.NewNop())
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return exp.calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	key := "sweep:test:" + time.Now().Format("150405.000000")
	locker := NewRedisLocker(client)

	ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	client.Del(ctx, key)
}
