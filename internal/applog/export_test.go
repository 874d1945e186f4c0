package applog

import "time"

// SetNow replaces the rotator clock.
func (r *Rotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	r.now = fn
	r.mu.Unlock()
}
