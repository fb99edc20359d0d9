package partconsumer

import "time"

// periodicTimer is an explicit handle around the auto-commit-by-time
// timer: it owns its own reset/stop/running state so the run loop can
// treat it like any other event source in its select, and a manual
// commit can reset its phase without the timer ever needing to know
// why.
type periodicTimer struct {
	period time.Duration
	timer  *time.Timer
}

// newPeriodicTimer returns a timer that never fires if period <= 0
// (auto-commit-by-time disabled).
func newPeriodicTimer(period time.Duration) *periodicTimer {
	t := &periodicTimer{period: period}
	if period > 0 {
		t.timer = time.NewTimer(period)
	}
	return t
}

// C is the channel the run loop selects on. It is nil (never fires)
// when auto-commit-by-time is disabled.
func (t *periodicTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

// Reset restarts the period from now. Called after every commit,
// manual or automatic, so a commit that just happened doesn't leave a
// stale timer about to fire early.
func (t *periodicTimer) Reset() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(t.period)
}

// Stop halts the timer: no further auto-commit-by-time fires until a
// later Reset starts it again.
func (t *periodicTimer) Stop() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
}

func (t *periodicTimer) running() bool { return t.timer != nil }
