package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Limiter decides whether a caller identified by key may proceed.
// Implementations use a fixed window: the first request in a window
// starts it, and requests beyond the limit are rejected until it rolls.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WithRateLimit applies a Limiter keyed by ClientKey. When the limiter
// itself fails (e.g. Redis down), failOpen controls whether traffic
// passes or gets a 503.
func WithRateLimit(l Limiter, logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientKey(r))
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryLimiter is the single-instance fixed-window limiter. Stale
// windows are pruned opportunistically so the map does not grow with
// every client ever seen.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*countingWindow
	lastPrune time.Time
}

type countingWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: map[string]*countingWindow{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneLocked(now)

	w := l.windows[key]
	if w == nil || now.After(w.resetAt) {
		l.windows[key] = &countingWindow{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.lastPrune = now
}
