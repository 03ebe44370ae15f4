// FILE: srpauth/src/internal/dispatch/limiter.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"srpauth/src/internal/config"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// Policy decides what happens to a request once the local budget is spent.
type Policy int

const (
	// PolicyWait blocks until a token is available or the context ends.
	PolicyWait Policy = iota
	// PolicyReject fails immediately with ErrRateLimited.
	PolicyReject
)

var ErrRateLimited = errors.New("client rate limit exceeded")

// Limiter enforces a client-side request rate. A nil Limiter allows
// everything.
type Limiter struct {
	limiter *rate.Limiter
	policy  Policy
	logger  *log.Logger

	// Statistics
	waitedCount   atomic.Uint64
	rejectedCount atomic.Uint64
}

// NewLimiter creates a limiter. If cfg.Rate is 0, it returns nil.
func NewLimiter(cfg config.RateLimitConfig, logger *log.Logger) (*Limiter, error) {
	if cfg.Rate <= 0 {
		return nil, nil
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.Rate))
	}

	var policy Policy
	switch strings.ToLower(cfg.Policy) {
	case "", "wait":
		policy = PolicyWait
	case "reject":
		policy = PolicyReject
	default:
		return nil, fmt.Errorf("invalid rate limit policy '%s'", cfg.Policy)
	}

	if logger == nil {
		logger = log.NewLogger()
	}

	l := &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		policy:  policy,
		logger:  logger,
	}

	logger.Debug("msg", "Client rate limiter created",
		"component", "dispatch",
		"rate", cfg.Rate,
		"burst", burst,
		"policy", policyString(policy))
	return l, nil
}

// Wait takes one token according to the policy.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter.Allow() {
		return nil
	}

	if l.policy == PolicyReject {
		if n := l.rejectedCount.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("msg", "Requests rejected by client rate limit",
				"component", "dispatch",
				"rejected_total", n)
		}
		return ErrRateLimited
	}

	l.waitedCount.Add(1)
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}

// GetStats returns the statistics for the limiter.
func (l *Limiter) GetStats() map[string]any {
	if l == nil {
		return map[string]any{
			"enabled": false,
		}
	}

	return map[string]any{
		"enabled":        true,
		"policy":         policyString(l.policy),
		"rate":           float64(l.limiter.Limit()),
		"burst":          l.limiter.Burst(),
		"tokens":         l.limiter.Tokens(),
		"waited_total":   l.waitedCount.Load(),
		"rejected_total": l.rejectedCount.Load(),
	}
}

func policyString(p Policy) string {
	switch p {
	case PolicyWait:
		return "wait"
	case PolicyReject:
		return "reject"
	default:
		return "unknown"
	}
}
