// Package flow contains pure flow-rate computation and the dry-run fault
// policy. This package has NO external dependencies (no GPIO, MQTT, OS, or
// timers). Counter snapshots and time are always injected by the caller.
package flow

import (
	"fmt"
	"time"
)

// FaultCode is the single-byte fault status carried in telemetry.
type FaultCode uint8

const (
	FaultNone           FaultCode = 0
	FaultDryRun         FaultCode = 1
	FaultUnexpectedFlow FaultCode = 2
)

// String returns the fault name used in payloads and log lines.
func (f FaultCode) String() string {
	switch f {
	case FaultNone:
		return "nominal"
	case FaultDryRun:
		return "dry-run"
	case FaultUnexpectedFlow:
		return "unexpected-flow"
	}
	return fmt.Sprintf("fault-%d", uint8(f))
}

// TickInput is one periodic observation handed to the sampler.
type TickInput struct {
	// Pulses is a monotonic snapshot of the edge counter.
	Pulses uint64
	// Enabled is the pump drive state at sampling time.
	Enabled bool
	Time    time.Time
}

// Sample is the outcome of one sampling period.
type Sample struct {
	Timestamp time.Time
	// Pulses is the counter snapshot the sample was computed from.
	Pulses uint64
	// Delta is the number of pulses accumulated during the period.
	Delta   uint64
	RateLPM float64
	Fault   FaultCode
}
