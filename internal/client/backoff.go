package client

import "time"

// Backoff yields capped exponential reconnect delays. Attempts are
// bounded; when they run out the client surfaces a terminal
// disconnected state instead of retrying forever.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	attempt     int
}

func NewBackoff(base, max time.Duration, maxAttempts int) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 15 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Backoff{Base: base, Max: max, MaxAttempts: maxAttempts}
}

// Next returns the delay before the next attempt, or false when the
// attempt budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.MaxAttempts {
		return 0, false
	}
	d := b.Base << uint(b.attempt)
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	b.attempt++
	return d, true
}

// Reset restores the full attempt budget after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt reports how many attempts have been consumed.
func (b *Backoff) Attempt() int {
	return b.attempt
}
