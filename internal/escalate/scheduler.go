// Package escalate arms the delayed backup-dispatch action for a call. A
// timer is an explicit, cancellable object owned by its call context, so a
// call that ends before the delay elapses can never fire a stale escalation.
package escalate

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler creates escalation timers with a fixed configured delay.
type Scheduler struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive delay falls back to the
// stock 30 seconds.
func NewScheduler(delay time.Duration, logger *slog.Logger) *Scheduler {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{delay: delay, logger: logger}
}

// Delay reports the configured escalation delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Arm schedules fire to run after the configured delay unless the returned
// timer is cancelled first. The caller owns the timer; at most one should be
// live per call, and re-arming replaces rather than stacks.
func (s *Scheduler) Arm(callID string, fire func()) *Timer {
	t := &Timer{callID: callID, logger: s.logger}
	t.timer = time.AfterFunc(s.delay, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()

		s.logger.Info("escalation timer fired", slog.String("call_id", callID))
		fire()
	})
	return t
}

// Timer is a single pending escalation. Cancel and the firing callback are
// mutually exclusive: once Cancel returns true the callback will never run.
type Timer struct {
	callID string
	logger *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	fired     bool
}

// Cancel stops the pending escalation. It returns true if the timer was
// still pending, false if it had already fired or been cancelled.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	t.logger.Debug("escalation timer cancelled", slog.String("call_id", t.callID))
	return true
}

// Fired reports whether the callback ran.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
