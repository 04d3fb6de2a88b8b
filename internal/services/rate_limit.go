package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// UserRateLimiter hands out one token bucket per user. Buckets idle for longer
// than ttl are dropped on the next lookup sweep.
type UserRateLimiter struct {
	perMinute int
	burst     int
	ttl       time.Duration

	mu        sync.Mutex
	limiters  map[uuid.UUID]*userLimiter
	lastSweep time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter returns nil when perMinute <= 0, which allows everything.
func NewUserRateLimiter(perMinute, burst int) *UserRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &UserRateLimiter{
		perMinute: perMinute,
		burst:     burst,
		ttl:       10 * time.Minute,
		limiters:  map[uuid.UUID]*userLimiter{},
	}
}

func (l *UserRateLimiter) Allow(userID uuid.UUID) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.ttl {
		for id, ul := range l.limiters {
			if now.Sub(ul.lastSeen) > l.ttl {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastSeen = now
	return ul.limiter.AllowN(now, 1)
}
