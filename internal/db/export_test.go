package db

import "time"

// SetNow replaces the clock used for new rows.
func (d *DB) SetNow(fn func() time.Time) {
	d.now = fn
}
