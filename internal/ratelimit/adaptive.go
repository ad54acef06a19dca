package ratelimit

import (
	"math"
	"sync/atomic"
)

// AdaptiveController scales a limiter's request ceiling from external
// load signals. It keeps no state beyond the current multiplier, so
// Adjust is idempotent and safe on every health-check tick.
type AdaptiveController struct {
	multiplier atomic.Uint64
}

// NewAdaptiveController starts at full capacity.
func NewAdaptiveController() *AdaptiveController {
	c := &AdaptiveController{}
	c.multiplier.Store(math.Float64bits(1.0))
	return c
}

// Adjust recomputes the multiplier from the average of CPU and memory
// utilization percentages.
func (c *AdaptiveController) Adjust(cpuPct, memPct float64) {
	avg := (cpuPct + memPct) / 2

	m := 1.0
	switch {
	case avg >= 80:
		m = 0.5
	case avg >= 60:
		m = 0.75
	}

	c.multiplier.Store(math.Float64bits(m))
}

// Multiplier returns the current scaling factor in (0, 1].
func (c *AdaptiveController) Multiplier() float64 {
	return math.Float64frombits(c.multiplier.Load())
}

// Scale applies the multiplier to a request ceiling, never dropping
// below one allowed request.
func (c *AdaptiveController) Scale(maxRequests int) int {
	scaled := int(float64(maxRequests) * c.Multiplier())
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}
