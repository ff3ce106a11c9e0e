package mid

import (
	"net"
	"net/http"

	"github.com/rserravi/fullfoodapp/pkg/resilience"
)

// MaxBytes returns middleware that caps the request body size. Oversized
// bodies fail inside the handler's first read with a 413 from the stdlib
// wrapper.
func MaxBytes(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns middleware that limits requests per client key within
// a sliding window. The key is the API key header when present, otherwise
// the remote host.
func RateLimit(limiter *resilience.WindowLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
