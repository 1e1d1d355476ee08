package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerRecordsOwnerSetByAuth(t *testing.T) {
	var buf bytes.Buffer
	h := RequestID(Logger(zerolog.New(&buf))(AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))))

	token, _ := SignJWT("secret", TokenClaims{Sub: "owner-7"})
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequestIDHeader, "trace-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["owner"] != "owner-7" || line["request_id"] != "trace-1" {
		t.Fatalf("log line = %v", line)
	}
	if line["status"] != float64(http.StatusTeapot) || line["bytes"] != float64(len("short and stout")) || line["level"] != "warn" {
		t.Fatalf("log line = %v", line)
	}
}

func TestRequestIDReplacesUnsafeValues(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	for _, in := range []string{"", "has space", "line\nbreak", strings.Repeat("a", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if in != "" {
			req.Header.Set(RequestIDHeader, in)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen == in || len(seen) != 36 {
			t.Fatalf("input %q: request id = %q, want fresh uuid", in, seen)
		}
		if rec.Header().Get(RequestIDHeader) != seen {
			t.Fatalf("input %q: header = %q, context = %q", in, rec.Header().Get(RequestIDHeader), seen)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Fatalf("request id = %q, want abc-123", seen)
	}
}
