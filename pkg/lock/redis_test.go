package lock

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}
	ctx := context.Background()

	client, err := NewRedisClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	key := "test:lock:" + uuid.NewString()
	a := NewRedisLocker(client, key)
	b := NewRedisLocker(client, key)

	release, ok, err := a.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the lock")

	release()

	releaseB, ok, err := b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// чужой release не снимает блокировку
	release()
	_, ok, err = a.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	releaseB()
}

func TestNewRedisClientUnreachable(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestLockOutlivesTTLWhileHeld(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}
	ctx := context.Background()

	client, err := NewRedisClient(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	key := "test:lock:" + uuid.NewString()
	release, ok, err := NewRedisLocker(client, key).Acquire(ctx, 300*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// тик дольше TTL: блокировка должна остаться нашей
	time.Sleep(time.Second)
	_, ok, err = NewRedisLocker(client, key).Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := NewRedisLocker(client, key).Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		keepAlive(stop, 5*time.Millisecond, func(context.Context) (bool, error) {
			calls.Add(1)
			return true, nil
		})
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keepAlive did not stop")
	}
}

func TestKeepAliveStopsWhenLockLost(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})

	go func() {
		keepAlive(make(chan struct{}), 5*time.Millisecond, func(context.Context) (bool, error) {
			if calls.Add(1) == 1 {
				return false, errors.New("connection reset")
			}
			return false, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keepAlive kept running after the key was lost")
	}
	assert.Equal(t, int32(2), calls.Load())
}
