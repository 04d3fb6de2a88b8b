package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

// Lock keeps dispatcher ticks of different processes from overlapping.
// Acquire returns ok=false when another holder has it.
type Lock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

type localLock struct {
	mu sync.Mutex
}

// NewLocalLock guards ticks within one process only.
func NewLocalLock() Lock {
	return &localLock{}
}

func (l *localLock) Acquire(context.Context, time.Duration) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lease taken over by another process is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLock struct {
	log *logger.Logger
	rdb goredis.UniversalClient
	key string
}

// NewRedisLock is a lease lock shared by every dispatcher pointed at the same
// Redis. The lease expires on its own if the holder dies mid-tick.
func NewRedisLock(log *logger.Logger, rdb goredis.UniversalClient, key string) Lock {
	if key == "" {
		key = "videoqueue:dispatch-lock"
	}
	return &redisLock{log: log.With("component", "DispatchLock"), rdb: rdb, key: key}
}

func (l *redisLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the tick context may already be cancelled at shutdown
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			l.log.Warn("release dispatch lock failed", "key", l.key, "error", err)
		}
	}
	return release, true, nil
}
