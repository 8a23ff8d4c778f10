package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type localEntry struct {
	limiter  *rate.Limiter
	rate     Rate
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. It is used
// when redis is not configured.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{entries: make(map[string]*localEntry), now: time.Now}
}

func (l *LocalLimiter) entry(key string, r Rate, now time.Time) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.rate != r {
		e = &localEntry{
			limiter: rate.NewLimiter(rate.Every(r.Period/time.Duration(r.Limit)), r.Limit),
			rate:    r,
		}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e
}

func (l *LocalLimiter) Allow(_ context.Context, key string, r Rate) (Result, error) {
	now := l.now()
	e := l.entry(key, r, now)

	reservation := e.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
		reservation.CancelAt(now)
		return Result{Allowed: false, Limit: r.Limit, Remaining: 0, RetryAfter: delay}, nil
	}

	remaining := int(e.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: r.Limit, Remaining: remaining}, nil
}

// Prune drops limiters idle for longer than idle and returns how many went.
func (l *LocalLimiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
