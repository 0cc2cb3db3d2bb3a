package mid

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// VisitorKey uses the visitor header when present, else the client address.
func VisitorKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(VisitorHeader)); v != "" {
		return "v:" + v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimit allows perSec requests per key with the given burst and answers
// 429 beyond that. At most size keys are tracked; the least recently seen
// key is forgotten first.
func RateLimit(perSec float64, burst, size int, key KeyFunc) Middleware {
	if burst < 1 {
		burst = 1
	}
	if size < 1 {
		size = 4096
	}
	limiters, _ := lru.New[string, *rate.Limiter](size)
	var mu sync.Mutex

	limiter := func(k string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters.Get(k); ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(perSec), burst)
		limiters.Add(k, l)
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter(key(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer rejects requests without "Authorization: Bearer <token>". An
// empty token rejects everything.
func RequireBearer(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
