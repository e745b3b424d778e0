// Package deadline provides the single-shot, cancel/reset timers the
// connection state machine waits on inside its own select loop: the
// overall completion deadline and the rate-limiter refill timer. Both
// timers are read from the owning goroutine's select statement, never
// from a separate callback goroutine, so there is nothing here to race
// against the connection's own state.
package deadline

import "time"

// Timer is a resettable, stoppable wrapper around time.Timer suited to
// being read repeatedly from a select loop. The zero value is not usable;
// construct with NewTimer.
type Timer struct {
	t      *time.Timer
	active bool
}

// NewTimer returns a Timer with no pending fire; call Reset to arm it.
func NewTimer() *Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return &Timer{t: t}
}

// C returns the channel that receives the current time when the timer
// fires. Reading from C when the timer is not active blocks forever,
// which is the desired behavior inside a select statement.
func (d *Timer) C() <-chan time.Time {
	return d.t.C
}

// Reset arms the timer to fire after d, stopping and draining any
// previous pending fire first.
func (d *Timer) Reset(dur time.Duration) {
	d.Stop()
	d.t.Reset(dur)
	d.active = true
}

// Stop disarms the timer. It is safe to call on an already-stopped timer.
func (d *Timer) Stop() {
	if !d.t.Stop() && d.active {
		// the timer already fired; drain the pending value so a later
		// Reset doesn't race against a stale receive.
		select {
		case <-d.t.C:
		default:
		}
	}
	d.active = false
}

// Active reports whether the timer has been armed by Reset and not
// stopped since; it stays true after the timer fires.
func (d *Timer) Active() bool { return d.active }

// EffectiveDeadline computes the absolute time by which a connection
// attempt must complete: completionTimeout after start, doubled while a
// hostname resolution is outstanding, since a lookup may be queued behind
// other pending lookups and deserves more slack than a connect/read does.
func EffectiveDeadline(start time.Time, completionTimeout time.Duration, resolvingHost bool) time.Time {
	budget := completionTimeout
	if resolvingHost {
		budget *= 2
	}
	return start.Add(budget)
}
