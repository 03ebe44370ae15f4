// FILE: srpauth/src/internal/testserver/iplimit.go
package testserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

const (
	ipLimiterIdle   = 10 * time.Minute
	ipCleanupPeriod = time.Minute
)

// ipLimiter applies the info rate limit per client IP.
type ipLimiter struct {
	limit  rate.Limit
	burst  int
	logger *log.Logger

	mu       sync.Mutex
	limiters map[string]*ipBucket

	lastCleanup time.Time

	totalRequests   atomic.Uint64
	blockedRequests atomic.Uint64
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps float64, burst int, logger *log.Logger) *ipLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:       rate.Limit(rps),
		burst:       burst,
		logger:      logger,
		limiters:    make(map[string]*ipBucket),
		lastCleanup: time.Now(),
	}
}

// allow reports whether ip may make another request now.
func (l *ipLimiter) allow(ip string) bool {
	if l == nil {
		return true
	}
	l.totalRequests.Add(1)

	now := time.Now()
	l.mu.Lock()
	b, ok := l.limiters[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = b
	}
	b.lastSeen = now
	if now.Sub(l.lastCleanup) > ipCleanupPeriod {
		l.cleanupLocked(now)
	}
	l.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true
	}

	blocked := l.blockedRequests.Add(1)
	if blocked == 1 || blocked%100 == 0 {
		l.logger.Warn("msg", "Info request rate limited",
			"component", "testserver",
			"ip", ip,
			"total_blocked", blocked)
	}
	return false
}

func (l *ipLimiter) cleanupLocked(now time.Time) {
	removed := 0
	for ip, b := range l.limiters {
		if now.Sub(b.lastSeen) > ipLimiterIdle {
			delete(l.limiters, ip)
			removed++
		}
	}
	l.lastCleanup = now
	if removed > 0 {
		l.logger.Debug("msg", "Cleaned up idle IP limiters",
			"component", "testserver",
			"removed", removed,
			"remaining", len(l.limiters))
	}
}

func (l *ipLimiter) stats() map[string]any {
	if l == nil {
		return map[string]any{"enabled": false}
	}
	l.mu.Lock()
	tracked := len(l.limiters)
	l.mu.Unlock()
	return map[string]any{
		"enabled":          true,
		"rate":             float64(l.limit),
		"burst":            l.burst,
		"tracked_ips":      tracked,
		"total_requests":   l.totalRequests.Load(),
		"blocked_requests": l.blockedRequests.Load(),
	}
}
