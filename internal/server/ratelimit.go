package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// multiLimiter keeps one token bucket per client key. Keys idle for longer
// than ttl are swept at most once per ttl, so a stale key may linger for up to
// twice the ttl but the hot path never walks the whole map.
type multiLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	nextSweep time.Time
}

type clientBucket struct {
	*rate.Limiter
	seen time.Time
}

func newMultiLimiter(limit rate.Limit, burst int, ttl time.Duration) *multiLimiter {
	return &multiLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
		buckets: make(map[string]*clientBucket),
	}
}

// allow reports whether key may make one more request now.
func (m *multiLimiter) allow(key string) bool {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &clientBucket{Limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now
	if !now.Before(m.nextSweep) {
		m.sweepLocked(now)
	}
	m.mu.Unlock()

	// rate.Limiter has its own lock.
	return b.AllowN(now, 1)
}

func (m *multiLimiter) sweepLocked(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.ttl {
			delete(m.buckets, k)
		}
	}
	m.nextSweep = now.Add(m.ttl)
}

func (m *multiLimiter) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "unknown"
}
