package quote

import "time"

// expiryClock holds the single timer that moves a quoted session to expired.
// It is owned by a Session and only touched with the session lock held.
type expiryClock struct {
	clock Clock
	timer Timer
}

// arm schedules fire at the wall-clock instant expiry, replacing any armed timer.
// It returns false without scheduling when expiry is not in the future.
func (e *expiryClock) arm(expiry time.Time, fire func()) bool {
	e.disarm()
	remaining := expiry.Sub(e.clock.Now())
	if remaining <= 0 {
		return false
	}
	e.timer = e.clock.AfterFunc(remaining, fire)
	return true
}

// disarm stops the armed timer, if any.
func (e *expiryClock) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *expiryClock) armed() bool { return e.timer != nil }
