package app

import (
	"sync"
	"time"
)

// Countdown fires onExpire once when the deadline passes unless disarmed first.
// Remaining time is always recomputed from the clock, so a suspended consumer
// sees the correct value when it wakes up.
type Countdown struct {
	deadline time.Time
	now      func() time.Time
	onExpire func()

	mu       sync.Mutex
	timer    *time.Timer
	disarmed bool
	fired    bool
}

// StartCountdown arms a timer for deadline. A deadline in the past fires immediately.
func StartCountdown(deadline time.Time, now func() time.Time, onExpire func()) *Countdown {
	c := &Countdown{
		deadline: deadline,
		now:      now,
		onExpire: onExpire,
	}
	c.mu.Lock()
	c.timer = time.AfterFunc(c.Remaining(), c.fire)
	c.mu.Unlock()
	return c
}

// Remaining never goes below zero.
func (c *Countdown) Remaining() time.Duration {
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Disarm stops the timer. It reports false when the expiry already fired.
func (c *Countdown) Disarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	return !c.fired
}

// Fired reports whether the expiry callback ran.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

func (c *Countdown) fire() {
	c.mu.Lock()
	if c.disarmed || c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	c.mu.Unlock()

	c.onExpire()
}
