package proxies

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Rotator cycles through the configured egress routes. It is the only
// piece of egress state shared between stages.
type Rotator struct {
	routes   []*Route
	interval time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	mu           sync.Mutex
	index        int
	lastRotation time.Time
	lastRelay    time.Time
	handedOut    map[string]int
	forced       int
}

func NewRotator(routes []string, interval time.Duration, logger *logrus.Logger) (*Rotator, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Rotator{
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		index:     -1,
		handedOut: make(map[string]int),
	}
	for _, raw := range routes {
		route, err := ParseRoute(raw)
		if err != nil {
			return nil, fmt.Errorf("egress route: %w", err)
		}
		r.routes = append(r.routes, route)
	}
	return r, nil
}

func (r *Rotator) Len() int {
	return len(r.routes)
}

// CurrentRoute advances to the next route and returns it. A single route is
// returned every time; no routes yields nil, meaning default egress.
func (r *Rotator) CurrentRoute() *Route {
	if r == nil || len(r.routes) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.routes) == 1 {
		route := r.routes[0]
		r.handedOut[route.String()]++
		return route
	}
	r.index = (r.index + 1) % len(r.routes)
	r.lastRotation = r.now()
	route := r.routes[r.index]
	r.handedOut[route.String()]++
	r.logger.Debugf("egress rotated to %s", route)
	return route
}

// ForceRotate clears the throttle so the next rotation, including a relay
// identity change, may happen immediately.
func (r *Rotator) ForceRotate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRotation = time.Time{}
	r.lastRelay = time.Time{}
	r.forced++
}

// RelayDue reports whether the relay identity may be rotated now and, if
// so, records the rotation.
func (r *Rotator) RelayDue() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastRelay.IsZero() || now.Sub(r.lastRelay) >= r.interval {
		r.lastRelay = now
		return true
	}
	return false
}

func (r *Rotator) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, len(r.handedOut))
	for k, v := range r.handedOut {
		counts[k] = v
	}
	return map[string]interface{}{
		"routes":        len(r.routes),
		"index":         r.index,
		"forced":        r.forced,
		"handed_out":    counts,
		"last_rotation": r.lastRotation,
	}
}
