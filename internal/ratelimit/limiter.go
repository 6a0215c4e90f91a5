// Package ratelimit throttles inbound turns per sender.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the sliding window every limit is counted over
const Window = time.Minute

// Limiter is a per-key sliding window limiter. A limit of zero or less
// disables it.
type Limiter struct {
	limit int
	now   func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New returns a limiter allowing limit turns per key per Window
func New(limit int) *Limiter {
	return &Limiter{
		limit: limit,
		now:   time.Now,
		hits:  make(map[string][]time.Time),
	}
}

// Enabled reports whether the limiter ever refuses
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow records a turn for key. When the key is over its limit the turn
// is not recorded and the wait until the oldest hit expires is returned.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.hits[key], now.Add(-Window))
	if len(hits) >= l.limit {
		l.hits[key] = hits
		return false, hits[0].Add(Window).Sub(now)
	}
	l.hits[key] = append(hits, now)
	return true, 0
}

// Remaining returns the turns key has left in the current window, or -1
// when the limiter is disabled
func (l *Limiter) Remaining(key string) int {
	if !l.Enabled() {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := prune(l.hits[key], l.now().Add(-Window))
	if len(hits) == 0 {
		delete(l.hits, key)
	} else {
		l.hits[key] = hits
	}
	return max(l.limit-len(hits), 0)
}

// Reset forgets key, used when a session is cleared
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
