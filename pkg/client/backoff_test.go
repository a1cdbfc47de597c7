package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsToMax(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 500*time.Millisecond)
	b.jitter = 0

	var got []time.Duration
	for range 5 {
		got = append(got, b.next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, got)
}

func TestBackoffJitter(t *testing.T) {
	b := newBackoff(100*time.Millisecond, time.Second)
	d := b.next()
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.LessOrEqual(t, d, 125*time.Millisecond)
}

func TestBackoffDefaults(t *testing.T) {
	b := newBackoff(0, 0)
	b.jitter = 0
	assert.Equal(t, DefaultResumeInitial, b.next())
	assert.Equal(t, DefaultResumeMax, b.max)
}
