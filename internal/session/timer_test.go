package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCountdownTicksMonotonically(t *testing.T) {
	var mu sync.Mutex
	var ticks []int64
	done := make(chan struct{})

	c := NewCountdown(5*time.Millisecond,
		func(n int64) {
			mu.Lock()
			ticks = append(ticks, n)
			mu.Unlock()
		},
		func() { close(done) },
		zerolog.Nop(),
	)

	c.Start(5)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never expired")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 5 {
		t.Fatalf("got %d ticks, want 5", len(ticks))
	}
	for i, n := range ticks {
		want := int64(4 - i)
		if n != want {
			t.Fatalf("tick %d = %d, want %d", i, n, want)
		}
	}
	if c.Remaining() != 0 {
		t.Fatalf("remaining after expiry = %d", c.Remaining())
	}
}

func TestCountdownExpiryFiresOnce(t *testing.T) {
	var fired atomic.Int32

	c := NewCountdown(2*time.Millisecond, nil,
		func() { fired.Add(1) },
		zerolog.Nop(),
	)

	c.Start(1)
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent

	if n := fired.Load(); n != 1 {
		t.Fatalf("expiry fired %d times, want 1", n)
	}
}

func TestCountdownZeroBudgetExpiresImmediately(t *testing.T) {
	done := make(chan struct{})

	c := NewCountdown(time.Hour, nil, func() { close(done) }, zerolog.Nop())
	c.Start(0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero budget did not expire immediately")
	}
	if c.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", c.Remaining())
	}
}

func TestCountdownDoubleStartIgnored(t *testing.T) {
	var ticks atomic.Int64

	c := NewCountdown(5*time.Millisecond,
		func(int64) { ticks.Add(1) },
		nil,
		zerolog.Nop(),
	)

	c.Start(1000)
	c.Start(1000) // must not spawn a second loop
	defer c.Stop()

	time.Sleep(60 * time.Millisecond)

	// A doubled loop would decrement twice per interval. Allow generous
	// scheduling slack but catch the 2x rate.
	elapsed := 1000 - c.Remaining()
	if elapsed > 20 {
		t.Fatalf("remaining dropped by %d in ~60ms of 5ms ticks, looks like a duplicate loop", elapsed)
	}
	if ticks.Load() != elapsed {
		t.Fatalf("ticks = %d, remaining dropped by %d", ticks.Load(), elapsed)
	}
}

func TestCountdownStopHaltsTicking(t *testing.T) {
	c := NewCountdown(5*time.Millisecond, nil, nil, zerolog.Nop())
	c.Start(1000)
	c.Stop()

	before := c.Remaining()
	time.Sleep(50 * time.Millisecond)
	after := c.Remaining()

	// One in-flight tick may still land after Stop.
	if before-after > 1 {
		t.Fatalf("countdown kept ticking after Stop: %d -> %d", before, after)
	}
}
