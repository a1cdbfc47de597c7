package client

import (
	"math/rand"
	"time"
)

// Resume backoff defaults.
const (
	// DefaultResumeInitial is the first delay between resume attempts.
	DefaultResumeInitial = 50 * time.Millisecond

	// DefaultResumeMax caps the delay between resume attempts.
	DefaultResumeMax = time.Second

	resumeMultiplier = 2.0
	resumeJitter     = 0.25
)

// backoff calculates exponential resume delays with jitter. It is used by
// one Reconnect call at a time.
type backoff struct {
	current time.Duration
	max     time.Duration
	jitter  float64
	rng     *rand.Rand
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	if initial <= 0 {
		initial = DefaultResumeInitial
	}
	if maxDelay <= 0 {
		maxDelay = DefaultResumeMax
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &backoff{
		current: initial,
		max:     maxDelay,
		jitter:  resumeJitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the next delay with jitter and advances the backoff.
func (b *backoff) next() time.Duration {
	delay := b.current
	if b.jitter > 0 {
		delay += time.Duration(float64(b.current) * b.jitter * b.rng.Float64())
	}

	grown := time.Duration(float64(b.current) * resumeMultiplier)
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return delay
}
