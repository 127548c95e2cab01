// Package transport owns the WebSocket listener, HTTP side-endpoints, and
// connection-level rate limiting. Grounded on the teacher's
// internal/fabric/websocket.go (Upgrader/CheckOrigin, ping ticker,
// read-deadline/pong-handler idiom) and internal/middleware/rate_limiter.go
// (sliding-window limiter with a read-first fast path).
package transport

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a max-events-per-window limit per key,
// mirroring the teacher's read-first RWMutex pattern: existing windows are
// checked under a read lock, and only a new or expired window pays for the
// write lock.
type SlidingWindowLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	limit   int
	period  time.Duration
}

type window struct {
	count int
	start time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing at most limit events
// per period per key.
func NewSlidingWindowLimiter(limit int, period time.Duration) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{windows: make(map[string]*window), limit: limit, period: period}
	go l.cleanup()
	return l
}

// Allow reports whether one more event for key is within the limit, counting
// it if so.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.RLock()
	w, ok := l.windows[key]
	if ok && now.Sub(w.start) <= l.period {
		w.count++
		count := w.count
		l.mu.RUnlock()
		return count <= l.limit
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok = l.windows[key]
	if ok && now.Sub(w.start) <= l.period {
		w.count++
		return w.count <= l.limit
	}
	l.windows[key] = &window{count: 1, start: now}
	return true
}

func (l *SlidingWindowLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for k, w := range l.windows {
			if now.Sub(w.start) > 2*l.period {
				delete(l.windows, k)
			}
		}
		l.mu.Unlock()
	}
}

// ConnCounter tracks live connection counts per remote IP for the per-IP
// connection cap.
type ConnCounter struct {
	mu    sync.Mutex
	byIP  map[string]int
}

// NewConnCounter constructs an empty ConnCounter.
func NewConnCounter() *ConnCounter {
	return &ConnCounter{byIP: make(map[string]int)}
}

// TryAcquire increments the count for ip if it is still under max, returning
// false (and leaving the count unchanged) if the cap is already reached.
func (c *ConnCounter) TryAcquire(ip string, max int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max > 0 && c.byIP[ip] >= max {
		return false
	}
	c.byIP[ip]++
	return true
}

// Release decrements the count for ip.
func (c *ConnCounter) Release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byIP[ip] > 0 {
		c.byIP[ip]--
		if c.byIP[ip] == 0 {
			delete(c.byIP, ip)
		}
	}
}
