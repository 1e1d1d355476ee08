package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name       string
		owner      string
		remoteAddr string
		want       string
	}{
		{"owner wins over ip", "alice", "198.51.100.10:1234", "owner:alice"},
		{"ipv4 with port", "", "198.51.100.10:1234", "ip:198.51.100.10"},
		{"ipv6 with port", "", net.JoinHostPort("2001:db8::2", "443"), "ip:2001:db8::2"},
		{"bare address", "", "203.0.113.1", "ip:203.0.113.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			req = req.WithContext(ContextWithUserID(req.Context(), tc.owner))
			if got := rateLimitKey(req); got != tc.want {
				t.Fatalf("rateLimitKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	h := rateLimit(2, time.Minute, clock.Now)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(owner string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithUserID(req.Context(), owner))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("alice"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, rec.Code)
		}
	}
	clock.t = clock.t.Add(20 * time.Second)
	rec := do("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("Retry-After = %q, want 40", got)
	}
	if !strings.Contains(rec.Body.String(), `"code":"rate_limited"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if rec := do("bob"); rec.Code != http.StatusNoContent {
		t.Fatalf("other owner status = %d, want 204", rec.Code)
	}

	clock.t = clock.t.Add(time.Minute)
	if rec := do("alice"); rec.Code != http.StatusNoContent {
		t.Fatalf("after window status = %d, want 204", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimit(0, time.Minute)(next)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
}
