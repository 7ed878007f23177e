package timing

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per remote host. A zero rate disables
// throttling entirely.
type HostLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	logger   *logrus.Logger
	mu       sync.Mutex

	waitCount    int64
	blockedCount int64
}

func NewHostLimiter(perSecond float64, burst int, logger *logrus.Logger) *HostLimiter {
	if logger == nil {
		logger = logrus.New()
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

func (hl *HostLimiter) Enabled() bool {
	return hl != nil && hl.limit > 0
}

func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	if !hl.Enabled() {
		return nil
	}
	lim := hl.limiterFor(host)

	hl.mu.Lock()
	hl.waitCount++
	hl.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		hl.mu.Lock()
		hl.blockedCount++
		hl.mu.Unlock()
		hl.logger.WithField("host", host).Debugf("rate limiter wait aborted: %v", err)
		return err
	}
	return nil
}

func (hl *HostLimiter) limiterFor(host string) *rate.Limiter {
	host = strings.ToLower(host)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	lim, ok := hl.limiters[host]
	if !ok {
		lim = rate.NewLimiter(hl.limit, hl.burst)
		hl.limiters[host] = lim
	}
	return lim
}

func (hl *HostLimiter) GetStats() map[string]interface{} {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return map[string]interface{}{
		"rate_per_second": float64(hl.limit),
		"burst":           hl.burst,
		"hosts":           len(hl.limiters),
		"waits":           hl.waitCount,
		"blocked":         hl.blockedCount,
	}
}
