package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// fixedWindow counts requests per key in windows of length per.
type fixedWindow struct {
	mu        sync.Mutex
	limit     int
	per       time.Duration
	now       func() time.Time
	windows   map[string]*window
	lastSweep time.Time
}

// allow records one request for key. When the key is over its limit it
// returns false and how long until the window resets.
func (f *fixedWindow) allow(key string) (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastSweep) > f.per {
		for k, w := range f.windows {
			if now.After(w.until) {
				delete(f.windows, k)
			}
		}
		f.lastSweep = now
	}
	w, ok := f.windows[key]
	if !ok || now.After(w.until) {
		w = &window{until: now.Add(f.per)}
		f.windows[key] = w
	}
	if w.count >= f.limit {
		return false, w.until.Sub(now)
	}
	w.count++
	return true, 0
}

// RateLimit allows limit requests per caller in each window. Authenticated
// callers are keyed by owner, anonymous ones by remote IP. A non-positive
// limit disables it.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	fw := &fixedWindow{limit: limit, per: per, now: now, windows: make(map[string]*window), lastSweep: now()}
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := fw.allow(rateLimitKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey expects RemoteAddr to be already resolved from proxy headers
// by chi's RealIP.
func rateLimitKey(r *http.Request) string {
	if owner := UserIDFromContext(r.Context()); owner != "" {
		return "owner:" + owner
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
