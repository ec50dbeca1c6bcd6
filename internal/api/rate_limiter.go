package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	scopeAPI     = "api"
	scopeReports = "reports"
)

type clientBudget struct {
	limiter *rate.Limiter
	seenAt  time.Time
}

// clientLimiter gives every client address its own token bucket. The router keeps one for all
// routes and a tighter one in front of report generation.
type clientLimiter struct {
	scope      string
	limit      rate.Limit
	burst      int
	idle       time.Duration
	retryAfter string
	now        func() time.Time
	onReject   func(scope string)

	mu        sync.Mutex
	clients   map[string]*clientBudget
	lastSweep time.Time
}

// newClientLimiter returns nil when either bound is not positive, which disables limiting.
func newClientLimiter(scope string, limit rate.Limit, burst int) *clientLimiter {
	if limit <= 0 || burst <= 0 {
		return nil
	}

	return &clientLimiter{
		scope:      scope,
		limit:      limit,
		burst:      burst,
		idle:       10 * time.Minute,
		retryAfter: retryAfterSeconds(limit),
		now:        time.Now,
		clients:    make(map[string]*clientBudget),
	}
}

// retryAfterSeconds is the whole-second wait for one token at limit.
func retryAfterSeconds(limit rate.Limit) string {
	seconds := math.Ceil(math.Round(1e6/float64(limit)) / 1e6)
	return strconv.Itoa(max(int(seconds), 1))
}

func perMinute(requests float64) rate.Limit {
	return rate.Limit(requests / 60)
}

func (l *clientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientAddress(r)) {
			if l.onReject != nil {
				l.onReject(l.scope)
			}
			w.Header().Set("Retry-After", l.retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded", "scope": l.scope})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *clientLimiter) allow(clientID string) bool {
	if clientID == "" {
		clientID = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idle {
		for key, budget := range l.clients {
			if now.Sub(budget.seenAt) > l.idle {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	budget, exists := l.clients[clientID]
	if !exists {
		budget = &clientBudget{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = budget
	}
	budget.seenAt = now
	return budget.limiter.AllowN(now, 1)
}

func (l *clientLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// clientAddress prefers the first forwarded address over the connection peer.
func clientAddress(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
