package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per submitter key.
type userLimiter struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	entries         map[string]*limiterEntry
	entryTTL        time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

func newUserLimiter(perMinute, burst int, now func() time.Time) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:           rate.Every(time.Minute / time.Duration(perMinute)),
		burst:           burst,
		entries:         make(map[string]*limiterEntry),
		entryTTL:        15 * time.Minute,
		cleanupInterval: 5 * time.Minute,
		lastCleanup:     now(),
		now:             now,
	}
}

func (l *userLimiter) allow(key string) bool {
	if l == nil || key == "" {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupInterval {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) > l.entryTTL {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
