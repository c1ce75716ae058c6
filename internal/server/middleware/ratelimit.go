package middleware

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed. retryAfter is a hint when it is not.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimit rejects requests over limiter's budget with 429, keyed by scope and key(r).
// A nil key counts per connecting peer. Limiter errors let the request through.
func RateLimit(limiter Limiter, scope string, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = PeerKey(nil)
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := key(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), scope+":"+ip)
			if err != nil {
				log.Printf("ratelimit: %s: %v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				log.Printf("ratelimit: %s exceeded for %s", scope, ip)
				writeRateLimited(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":       "Too many requests. Please try again later.",
		"retry_after": secs,
	})
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalLimiter is an in-process token bucket per key.
type LocalLimiter struct {
	perMinute int
	idleTTL   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocalLimiter allows perMinute requests per key per minute with a burst of perMinute.
// Idle keys are dropped every cleanupInterval; zero disables the sweeper.
func NewLocalLimiter(perMinute int, cleanupInterval time.Duration) *LocalLimiter {
	l := &LocalLimiter{
		perMinute: perMinute,
		idleTTL:   2 * cleanupInterval,
		now:       time.Now,
		limiters:  make(map[string]*keyLimiter),
		stop:      make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop(cleanupInterval)
	}
	return l
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.perMinute <= 0 {
		return true, 0, nil
	}
	l.mu.Lock()
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)}
		l.limiters[key] = kl
	}
	now := l.now()
	kl.lastAccess = now
	l.mu.Unlock()

	res := kl.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// Len returns the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the cleanup goroutine.
func (l *LocalLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *LocalLimiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, kl := range l.limiters {
		if now.Sub(kl.lastAccess) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
}
