package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter keeps one token bucket per key. Idle buckets are dropped once they have been
// full for a whole window.
type keyedRateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*rateBucket
	pruned  time.Time
}

type rateBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]*rateBucket),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &rateBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	allowed := bucket.limiter.AllowN(now, 1)

	if now.Sub(l.pruned) >= l.window {
		l.pruneLocked(now)
	}
	return allowed
}

func (l *keyedRateLimiter) pruneLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) > l.window {
			delete(l.buckets, key)
		}
	}
	l.pruned = now
}

// WithOrderCreateRateLimit caps how many orders one user can place per window.
func WithOrderCreateRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.createLimiter = newKeyedRateLimiter(limit, window, nil)
		h.createWindow = window
	}
}

func (h *OrderHandlers) rateLimitCreate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.createLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := ""
		if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
			key = identity.UID
		}
		if !h.createLimiter.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.createWindow.Seconds())))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many orders, retry later", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
