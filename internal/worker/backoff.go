package worker

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the idle delay between empty polls. Each consecutive
// empty claim doubles the delay up to Max; a successful claim resets it.
// Jitter desynchronizes workers that started at the same instant.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultBackoffPolicy returns the polling backoff used unless configuration
// overrides it.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2.0,
		Jitter:  0.2,
	}
}

// Delay returns the wait before the next poll after n consecutive empty
// claims. n starts at 1 for the first empty claim.
func (p BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := float64(p.Initial)
	for i := 1; i < n; i++ {
		d *= p.Factor
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}

	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	return time.Duration(d)
}
