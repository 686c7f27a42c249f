package ws

import (
	"math/rand"
	"time"
)

// nextDelay computes the reconnect delay that follows prev. The result is
// prev scaled by factor with a uniform jitter in [1-band, 1+band], capped at
// max. Kept as a pure function of the previous delay so the backoff curve is
// testable without a clock.
func nextDelay(prev time.Duration, factor, band float64, max time.Duration) time.Duration {
	jitter := 1 - band + 2*band*rand.Float64()
	d := time.Duration(float64(prev) * factor * jitter)
	if d > max {
		d = max
	}
	return d
}
