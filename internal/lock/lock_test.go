package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLocalExcludesSameKey(t *testing.T) {
	l := NewLocal()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "invoice:1")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxSeen.Load())
	require.Zero(t, l.held("invoice:1"), "entries are dropped once nobody holds or waits")
}

func TestLocalKeysAreIndependent(t *testing.T) {
	l := NewLocal()
	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)
	require.Equal(t, 1, l.held("k"), "a timed out waiter must not leak a reference")

	release()
	release()
	require.Zero(t, l.held("k"))

	again, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestRedisLockAgainstServer(t *testing.T) {
	addr := os.Getenv("APOTEK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("APOTEK_TEST_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	first := NewRedis(rdb, 5*time.Second, logger)
	second := NewRedis(rdb, 5*time.Second, logger)
	key := "test:" + time.Now().Format(time.RFC3339Nano)

	release, err := first.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = second.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	release()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	releaseSecond, err := second.Acquire(ctx2, key)
	require.NoError(t, err)
	releaseSecond()
}
