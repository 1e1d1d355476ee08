package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// accessRecord collects fields that inner middleware learn after Logger has
// already handed the request on.
type accessRecord struct {
	owner string
}

type accessKey struct{}

func noteOwner(ctx context.Context, owner string) {
	if rec, ok := ctx.Value(accessKey{}).(*accessRecord); ok {
		rec.owner = owner
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.bytes += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Logger writes one access line per request. 5xx log at error, 4xx at warn.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &accessRecord{}
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), accessKey{}, rec)))

			ev := l.Info()
			switch {
			case rw.status >= 500:
				ev = l.Error()
			case rw.status >= 400:
				ev = l.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Str("request_id", RequestIDFromContext(r.Context())).
				Str("owner", rec.owner).
				Msg("http request")
		})
	}
}
