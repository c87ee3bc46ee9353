package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an idle client's limiter is kept.
const idleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > idleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > idleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastPrune = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// rateLimit limits requests per X-Forwarded-For value. Requests without the
// header pass through unlimited.
func rateLimit(l *clientLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if key != "" && !l.allow(key) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
