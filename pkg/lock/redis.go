package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "seat-reservation:reconcile:lock"

// Снимаем блокировку, только если она всё ещё наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a single-key mutex shared by every replica of the service.
type RedisLocker struct {
	client *redis.Client
	key    string
}

func NewRedisLocker(client *redis.Client, key string) *RedisLocker {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLocker{client: client, key: key}
}

// NewRedisClient connects and pings with a short timeout.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Acquire tries to take the lock for ttl. ok is false when another holder has it.
// While held, the lock is extended every ttl/3, so a tick longer than ttl keeps it.
// The returned release stops the extension and deletes the key; calling it twice is safe.
func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	every := ttl / 3
	if every <= 0 {
		every = ttl
	}
	stop := make(chan struct{})
	go keepAlive(stop, every, func(ctx context.Context) (bool, error) {
		n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, ttl.Milliseconds()).Int()
		return n == 1, err
	})

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// при ошибке ключ истечёт сам по TTL
			_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
		})
	}
	return release, true, nil
}

// keepAlive calls extend every interval until stop is closed or the key is no longer ours.
// A failed call is retried on the next interval.
func keepAlive(stop <-chan struct{}, every time.Duration, extend func(context.Context) (bool, error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := extend(ctx)
			cancel()
			if err == nil && !held {
				return
			}
		}
	}
}
