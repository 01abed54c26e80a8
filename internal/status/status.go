// Package status provides a thread-safe status tracker for the pump-controller
// daemon. It is read by the HTTP handlers and the telemetry notifier.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
)

// Config contains daemon configuration for display.
type Config struct {
	Chip         string
	FlowPin      int
	PumpPWMPin   int
	PumpLowPin   int
	PeriodMs     int
	PulsesPerLPM float64
	MinFlowLPM   float64
	GraceSamples int
	Broker       string
	HTTPAddr     string
}

// FaultCounts tracks fault transitions seen since startup.
type FaultCounts struct {
	DryRun         uint64
	UnexpectedFlow uint64
	Cleared        uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	PumpOn        bool
	RateLPM       float64
	FlowX100      uint16
	Pulses        uint64
	Fault         flow.FaultCode
	Samples       uint64
	FaultCounts   FaultCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RecordSample folds one flow sample into the tracker and counts fault code
// transitions. Called on every sampling tick.
func (t *Tracker) RecordSample(rateLPM float64, flowX100 uint16, pulses uint64, fault flow.FaultCode) {
	t.mu.Lock()
	t.snap.RateLPM = rateLPM
	t.snap.FlowX100 = flowX100
	t.snap.Pulses = pulses
	if fault != t.snap.Fault {
		switch fault {
		case flow.FaultDryRun:
			t.snap.FaultCounts.DryRun++
		case flow.FaultUnexpectedFlow:
			t.snap.FaultCounts.UnexpectedFlow++
		case flow.FaultNone:
			t.snap.FaultCounts.Cleared++
		}
	}
	t.snap.Fault = fault
	t.snap.Samples++
	t.mu.Unlock()
}

// SetPumpOn records the commanded pump state.
func (t *Tracker) SetPumpOn(on bool) {
	t.mu.Lock()
	t.snap.PumpOn = on
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetTuning updates the displayed dry-run thresholds after a live retune.
// Zero or negative values leave the corresponding field unchanged.
func (t *Tracker) SetTuning(minFlowLPM float64, graceSamples int) {
	t.mu.Lock()
	if minFlowLPM > 0 {
		t.snap.Config.MinFlowLPM = minFlowLPM
	}
	if graceSamples > 0 {
		t.snap.Config.GraceSamples = graceSamples
	}
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
