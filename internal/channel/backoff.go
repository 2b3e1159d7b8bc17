package channel

import "time"

// backoff produces the reconnect delay schedule: base, doubling per
// consecutive failure, capped, and exhausted after maxAttempts.
type backoff struct {
	base        time.Duration
	cap         time.Duration
	maxAttempts int
	attempt     int
}

// next returns the delay before the next attempt, or false when the attempt
// budget is spent.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	d := b.base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.cap {
			d = b.cap
			break
		}
	}
	b.attempt++
	return d, true
}

// reset restores the schedule to its base after a successful connect.
func (b *backoff) reset() {
	b.attempt = 0
}
