package queue

import "time"

// Backoff computes redelivery delays. The policy is data-driven so retry
// behavior can be tested without a live queue.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the delay regardless of attempt count.
	Max time.Duration
}

// DefaultBackoff doubles from 30 seconds up to a 10 minute ceiling.
var DefaultBackoff = Backoff{Base: 30 * time.Second, Max: 10 * time.Minute}

// Delay returns the redelivery delay after the given 0-based attempt:
// base * 2^attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
