package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Countdown decrements a remaining-seconds counter once per tick and fires an
// expiry callback exactly once when it reaches zero. Start is guarded against
// duplicate intervals and Stop is idempotent. A suspended or delayed tick is
// tolerated: the counter never goes negative and expiry fires as soon as the
// loop reaches zero.
type Countdown struct {
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc

	remaining atomic.Int64
	expired   atomic.Bool

	onTick   func(remaining int64)
	onExpiry func()

	log zerolog.Logger
}

// NewCountdown creates a countdown ticking at the given interval (one second
// in production; tests shorten it).
func NewCountdown(interval time.Duration, onTick func(int64), onExpiry func(), log zerolog.Logger) *Countdown {
	return &Countdown{
		interval: interval,
		onTick:   onTick,
		onExpiry: onExpiry,
		log:      log.With().Str("component", "countdown").Logger(),
	}
}

// Start begins ticking from initialSeconds. Calling Start while already
// running is a no-op. Starting at zero fires expiry immediately.
func (c *Countdown) Start(initialSeconds int64) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}

	if initialSeconds <= 0 {
		c.remaining.Store(0)
		c.mu.Unlock()
		c.fireExpiry()
		return
	}
	c.remaining.Store(initialSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop cancels the tick loop. Idempotent; safe to call from any goroutine.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Remaining returns the current remaining seconds (never negative).
func (c *Countdown) Remaining() int64 {
	return c.remaining.Load()
}

func (c *Countdown) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.remaining.Add(-1)
			if n < 0 {
				// Floor guard; the loop exits at zero so this only
				// triggers if a stale tick slips through.
				c.remaining.Store(0)
				return
			}
			if c.onTick != nil {
				c.onTick(n)
			}
			if n == 0 {
				c.fireExpiry()
				return
			}
		}
	}
}

func (c *Countdown) fireExpiry() {
	if !c.expired.CompareAndSwap(false, true) {
		return
	}
	c.log.Debug().Msg("Countdown expired")
	if c.onExpiry != nil {
		c.onExpiry()
	}
}
