package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client. A nil limiter allows
// everything.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	every    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		limiters: map[string]*clientLimiter{},
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     time.Minute,
		now:      time.Now,
	}
}

func (l *rateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.limiters[key]
	if !ok {
		l.evictIdle(now)
		c = &clientLimiter{lim: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = c
	}
	c.lastSeen = now
	return c.lim
}

func (l *rateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	return l.getLimiter(key, now).AllowN(now, 1)
}

// evictIdle drops clients whose bucket has had time to refill completely.
func (l *rateLimiter) evictIdle(now time.Time) {
	for key, c := range l.limiters {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
