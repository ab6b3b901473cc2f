package client

import (
	"math/rand"
	"time"
)

const (
	DefaultBackoffBase       = 500 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffResetAfter = 10 * time.Second
)

// Backoff computes reconnect delays: exponential growth capped at Max,
// with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// ResetAfter is how long a connection must stay up before the attempt
	// count starts over. A hub that accepts and immediately drops keeps
	// the delays growing.
	ResetAfter time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64
}

// Next returns the delay before reconnect attempt n (zero-based).
func (b Backoff) Next(attempt int) time.Duration {
	base, ceilingMax := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceilingMax <= 0 {
		ceilingMax = DefaultBackoffMax
	}
	if attempt < 0 {
		attempt = 0
	}

	ceiling := ceilingMax
	// Past ~30 doublings the shift overflows; the cap has long been reached.
	if attempt < 30 {
		if d := base << uint(attempt); d > 0 && d < ceilingMax {
			ceiling = d
		}
	}

	random := b.Rand
	if random == nil {
		random = rand.Float64
	}
	return time.Duration(random() * float64(ceiling))
}

// Stable reports whether a connection that lasted uptime resets the attempt count.
func (b Backoff) Stable(uptime time.Duration) bool {
	resetAfter := b.ResetAfter
	if resetAfter <= 0 {
		resetAfter = DefaultBackoffResetAfter
	}
	return uptime >= resetAfter
}
