package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Throttle enforces a minimum interval between consecutive fetches of one workflow.
// Each dispatcher worker owns its own Throttle, so the overall request rate
// scales with worker count.
type Throttle struct {
	interval time.Duration
	last     time.Time
	mu       sync.Mutex // Serializes callers sharing a throttle
	log      *logrus.Entry
}

// NewThrottle creates a Throttle. An interval <= 0 disables waiting.
func NewThrottle(interval time.Duration, log *logrus.Entry) *Throttle {
	return &Throttle{interval: interval, log: log}
}

// Interval returns the configured minimum interval
func (t *Throttle) Interval() time.Duration { return t.interval }

// Wait blocks until the interval has elapsed since the previous Wait returned.
// The first call never blocks. A small positive jitter (up to 10%) desynchronizes workers.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.interval > 0 && !t.last.IsZero() {
		elapsed := time.Since(t.last)
		if elapsed < t.interval {
			sleep := t.interval - elapsed
			if jitterRange := int64(sleep) / 10; jitterRange > 0 {
				sleep += time.Duration(rand.Int63n(jitterRange))
			}
			t.log.WithFields(logrus.Fields{
				"sleep": sleep, "required_delay": t.interval, "elapsed": elapsed,
			}).Debug("Throttle applying sleep")
			if err := Sleep(ctx, sleep); err != nil {
				return err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	t.last = time.Now()
	return nil
}
