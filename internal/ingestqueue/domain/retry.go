package ingestqueue

import "time"

// RetryPolicy computes the delay before a nacked entry becomes eligible again.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultRetryPolicy doubles from 5s up to 5 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 5 * time.Second, Max: 300 * time.Second}
}

// Delay returns Base * 2^attempts capped at Max. A zero Base disables backoff.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	delay := p.Base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
