// Package pulse counts rising edges from the flow sensor.
// The real source uses Linux GPIO character device edge events.
// The fake source allows testing without hardware.
package pulse

import "sync/atomic"

// Counter is the monotonic count of sensor edges. Record is the only
// writer and runs on the edge-event goroutine; Snapshot may be called from
// any goroutine.
//
// The count never decreases while the process runs. At sensor rates (a few
// hundred pulses per second at full flow) a uint64 cannot wrap within the
// service life of the hardware, so wraparound is not guarded.
type Counter struct {
	n atomic.Uint64
}

// Record counts one rising edge. O(1) and non-blocking; safe to call from
// the event handler.
func (c *Counter) Record() {
	c.n.Add(1)
}

// Snapshot returns the current count.
func (c *Counter) Snapshot() uint64 {
	return c.n.Load()
}
