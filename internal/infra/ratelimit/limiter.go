// Package ratelimit provides an in-process token bucket per key, used when
// no redis instance is configured.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleAfter = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	visitors map[string]*entry
	clockNow func() time.Time
}

func New(perMinute, burst int) *Limiter {
	perSec := rate.Limit(float64(perMinute) / 60.0)
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		perSec:   perSec,
		burst:    burst,
		visitors: make(map[string]*entry),
		clockNow: time.Now,
	}
}

// Allow never fails; the error return matches the redis limiter.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.clockNow()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.visitors[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.visitors[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// Sweep forgets keys idle for longer than idleAfter and returns how many.
func (l *Limiter) Sweep() int {
	cutoff := l.clockNow().Add(-idleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.visitors {
		if e.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

// Run sweeps idle keys until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(idleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Sweep()
		}
	}
}
