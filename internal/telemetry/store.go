// Package telemetry holds the last published flow reading and fault code,
// shared between the sampling loop (writer) and the transport and status
// surfaces (readers).
package telemetry

import (
	"sync"

	"github.com/sweeney/pump-controller/internal/flow"
)

// Reading is one coherent sample: the rate, its scaled form, and the fault
// code, all from the same tick.
type Reading struct {
	// RateLPM is the unrounded flow rate in L/min.
	RateLPM float64
	// FlowScaled is the flow rate in hundredths of L/min.
	FlowScaled uint16
	Fault      flow.FaultCode
}

// Store is the process-wide telemetry cell. One mutex guards all fields, so
// Reading never returns a flow value from one sample paired with the fault
// code of another.
type Store struct {
	mu         sync.Mutex
	rateLPM    float64
	flowScaled uint16
	fault      flow.FaultCode

	wake chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{wake: make(chan struct{}, 1)}
}

// SetReading stores all fields of a sample under one critical section.
func (s *Store) SetReading(r Reading) {
	s.mu.Lock()
	s.rateLPM = r.RateLPM
	s.flowScaled = r.FlowScaled
	s.fault = r.Fault
	s.mu.Unlock()
}

// Reading returns the current sample.
func (s *Store) Reading() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{RateLPM: s.rateLPM, FlowScaled: s.flowScaled, Fault: s.fault}
}

// SetFlowScaled stores only the flow value.
func (s *Store) SetFlowScaled(v uint16) {
	s.mu.Lock()
	s.flowScaled = v
	s.mu.Unlock()
}

// FlowScaled returns the flow value in hundredths of L/min.
func (s *Store) FlowScaled() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowScaled
}

// SetFault stores only the fault code.
func (s *Store) SetFault(f flow.FaultCode) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Fault returns the fault code.
func (s *Store) Fault() flow.FaultCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Signal wakes the notifier without blocking. Signals coalesce: a slow
// consumer sees a single wake for any number of new samples.
func (s *Store) Signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel the notifier waits on.
func (s *Store) Wake() <-chan struct{} {
	return s.wake
}
