package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/logging"
)

// Default token-bucket parameters for the answering endpoints.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20
)

const (
	// bucketIdle is how long an unused bucket is kept before eviction.
	bucketIdle = 5 * time.Minute
	// sweepEvery is the eviction interval.
	sweepEvery = time.Minute
)

// Rate-limit scopes. A request to a session route draws one token from the
// client's bucket and one from the session's bucket.
const (
	scopeClient  = "client"
	scopeSession = "session"
)

// bucket is one token bucket and the last time it was drawn from.
type bucket struct {
	lim  *rate.Limiter
	used time.Time
}

// bucketKey names a bucket.
type bucketKey struct {
	scope string
	id    string
}

// limiter hands out token buckets per client address and per session id.
type limiter struct {
	rps   rate.Limit
	burst int
	// reject, when set, is told the scope of every rejected request.
	reject func(scope string)
	now    func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// newLimiter returns a limiter and a stop function for its eviction loop.
// stop may be called more than once.
func newLimiter(rps float64, burst int, reject func(scope string)) (*limiter, func()) {
	l := &limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		reject:  reject,
		now:     time.Now,
		buckets: make(map[bucketKey]*bucket),
	}
	done := make(chan struct{})
	go l.sweepLoop(done)

	var once sync.Once
	return l, func() { once.Do(func() { close(done) }) }
}

// get returns the bucket for k, creating it on first use.
func (l *limiter) get(k bucketKey, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[k] = b
	}
	b.used = now
	return b.lim
}

// admit takes one token from every bucket in keys. When any bucket is empty
// nothing is taken, and admit returns that bucket's scope and how long until
// a token is available.
func (l *limiter) admit(keys ...bucketKey) (string, time.Duration) {
	now := l.now()
	reservations := make([]*rate.Reservation, 0, len(keys))
	cancel := func() {
		for _, r := range reservations {
			r.CancelAt(now)
		}
	}

	for _, k := range keys {
		r := l.get(k, now).ReserveN(now, 1)
		if !r.OK() {
			cancel()
			return k.scope, sweepEvery
		}
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > 0 {
			cancel()
			return k.scope, d
		}
	}
	return "", 0
}

// sweepLoop evicts idle buckets until done is closed.
func (l *limiter) sweepLoop(done <-chan struct{}) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes buckets unused for longer than bucketIdle.
func (l *limiter) sweep() {
	cutoff := l.now().Add(-bucketIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.buckets {
		if b.used.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// len reports how many buckets are held.
func (l *limiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// middleware rejects requests with 429 once the client or the session in the
// {id} path value runs out of tokens.
func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		keys := []bucketKey{{scopeClient, ip}}
		id := r.PathValue("id")
		if id != "" {
			keys = append(keys, bucketKey{scopeSession, id})
		}

		scope, wait := l.admit(keys...)
		if wait == 0 {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("scope", scope),
			slog.String("ip", ip),
			slog.String("session", id),
			slog.Duration("retry_after", wait),
		)
		if l.reject != nil {
			l.reject(scope)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is not
// trusted: the server binds to loopback by default.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
