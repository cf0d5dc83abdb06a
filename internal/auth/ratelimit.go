package auth

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// FailureLimiter throttles failed authentication attempts per client IP
// with a token bucket. Successful attempts cost nothing.
type FailureLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewFailureLimiter allows burst failures, refilled at r per second.
func NewFailureLimiter(r rate.Limit, burst int) *FailureLimiter {
	return &FailureLimiter{every: r, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

func (l *FailureLimiter) bucket(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[ip]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[ip] = b
	}
	return b
}

// Blocked reports whether ip has exhausted its failure budget.
func (l *FailureLimiter) Blocked(ip string) bool {
	return l.bucket(ip).Tokens() < 1
}

// Fail records one failed attempt for ip.
func (l *FailureLimiter) Fail(ip string) {
	l.bucket(ip).Allow()
}

// Prune forgets IPs whose bucket has fully refilled.
func (l *FailureLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, b := range l.buckets {
		if b.Tokens() >= float64(l.burst) {
			delete(l.buckets, ip)
			n++
		}
	}
	return n
}

// ClientIP returns the request's remote IP without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
