package stream

import (
	"math/rand/v2"
	"time"
)

// ReconnectPolicy yields the delay before the next reconnect attempt. The
// client calls it under its own lock, so implementations need no locking.
type ReconnectPolicy interface {
	Next() time.Duration
	// Reset is called when a connection opens.
	Reset()
}

// FixedDelay waits the same delay before every attempt.
type FixedDelay time.Duration

func (d FixedDelay) Next() time.Duration { return time.Duration(d) }
func (FixedDelay) Reset()                {}

// ExponentialBackoff doubles from Base up to Max. Jitter in [0,1] spreads
// each delay uniformly across ±Jitter of its nominal value, still capped at
// Max.
type ExponentialBackoff struct {
	Base    time.Duration
	Max     time.Duration
	Jitter  float64
	attempt int
	rand    func() float64
}

func NewExponentialBackoff(base, maxDelay time.Duration, jitter float64) *ExponentialBackoff {
	return &ExponentialBackoff{Base: base, Max: maxDelay, Jitter: jitter, rand: rand.Float64}
}

func (b *ExponentialBackoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		factor := 1 - b.Jitter + 2*b.Jitter*r()
		d = time.Duration(float64(d) * factor)
		if d > b.Max {
			d = b.Max
		}
	}
	return d
}

func (b *ExponentialBackoff) Reset() {
	b.attempt = 0
}
