package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayStaysWithinJitterBand(t *testing.T) {
	prev := 3 * time.Second
	for i := 0; i < 200; i++ {
		d := nextDelay(prev, 1.5, 0.15, 30*time.Second)
		lo := time.Duration(float64(prev) * 1.5 * 0.85)
		hi := time.Duration(float64(prev) * 1.5 * 1.15)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestNextDelayGrowsUntilCap(t *testing.T) {
	d := 3 * time.Second
	for i := 0; i < 20; i++ {
		next := nextDelay(d, 1.5, 0.15, 30*time.Second)
		assert.LessOrEqual(t, next, 30*time.Second)
		d = next
	}
	// After enough doublings the cap is the only possible outcome.
	assert.Equal(t, 30*time.Second, d)
}

func TestNextDelayZeroBandIsDeterministic(t *testing.T) {
	d := nextDelay(2*time.Second, 1.5, 0, time.Minute)
	assert.Equal(t, 3*time.Second, d)
}
