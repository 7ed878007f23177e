package timing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

// RandomDelayer spaces out probes against the same family of sites by a
// uniformly random pause in [min, max].
type RandomDelayer struct {
	minDelay time.Duration
	maxDelay time.Duration
	sleep    utils.Sleeper

	mu         sync.Mutex
	rng        *rand.Rand
	delayCount int64
	totalDelay time.Duration
}

func NewRandomDelayer(minDelay, maxDelay time.Duration, sleep utils.Sleeper) *RandomDelayer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if sleep == nil {
		sleep = utils.SleepContext
	}
	return &RandomDelayer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		sleep:    sleep,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (rd *RandomDelayer) Next() time.Duration {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	d := rd.minDelay
	if span := int64(rd.maxDelay - rd.minDelay); span > 0 {
		d += time.Duration(rd.rng.Int63n(span + 1))
	}
	rd.delayCount++
	rd.totalDelay += d
	return d
}

func (rd *RandomDelayer) DelayCtx(ctx context.Context) error {
	if rd == nil {
		return nil
	}
	return rd.sleep(ctx, rd.Next())
}

func (rd *RandomDelayer) GetStats() map[string]interface{} {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	avg := time.Duration(0)
	if rd.delayCount > 0 {
		avg = rd.totalDelay / time.Duration(rd.delayCount)
	}
	return map[string]interface{}{
		"delay_count":   rd.delayCount,
		"total_delay":   rd.totalDelay.String(),
		"average_delay": avg.String(),
	}
}
