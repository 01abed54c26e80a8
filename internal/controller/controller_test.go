package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
	"github.com/sweeney/pump-controller/internal/pulse"
	"github.com/sweeney/pump-controller/internal/pump"
	"github.com/sweeney/pump-controller/internal/telemetry"
)

// testPeriod keeps scenario tests fast. The dry-run policy counts samples,
// not wall time, so the shortened period does not change behavior.
const testPeriod = 15 * time.Millisecond

type sampleRec struct {
	rate   float64
	pulses uint64
	fault  flow.FaultCode
}

type rig struct {
	c       *Controller
	counter *pulse.Counter
	source  *pulse.FakeSource
	driver  *pump.FakeDriver
	store   *telemetry.Store
	samples chan sampleRec
}

// newRig wires a controller against fakes with a fast sampling period and
// a sink that forwards every sample to the samples channel.
func newRig(t *testing.T) *rig {
	t.Helper()

	counter := &pulse.Counter{}
	source := pulse.NewFakeSource(counter)
	driver := pump.NewFakeDriver()
	sampler := flow.NewSampler(flow.Config{Period: testPeriod})
	store := telemetry.NewStore()

	r := &rig{
		c:       New(counter, source, driver, sampler, store, Config{Period: testPeriod}),
		counter: counter,
		source:  source,
		driver:  driver,
		store:   store,
		samples: make(chan sampleRec, 256),
	}
	r.c.SetSink(func(rate float64, pulses uint64, fault flow.FaultCode) {
		r.samples <- sampleRec{rate: rate, pulses: pulses, fault: fault}
	})
	return r
}

func (r *rig) waitSample(t *testing.T) sampleRec {
	t.Helper()
	select {
	case s := <-r.samples:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sample")
		return sampleRec{}
	}
}

// drain consumes buffered samples until the loop has been quiet for a few
// periods, returning the last sample seen (ok=false if none).
func (r *rig) drain(t *testing.T) (last sampleRec, ok bool) {
	t.Helper()
	for {
		select {
		case s := <-r.samples:
			last, ok = s, true
		case <-time.After(4 * testPeriod):
			return last, ok
		}
	}
}

func TestEnableBeforeInit(t *testing.T) {
	r := newRig(t)

	err := r.c.Enable(true)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInitIdempotent(t *testing.T) {
	r := newRig(t)

	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error on second init: %v", err)
	}

	if r.driver.InitCalls() != 1 {
		t.Errorf("expected 1 driver init, got %d", r.driver.InitCalls())
	}
	if !r.source.Started {
		t.Error("expected pulse source to be started")
	}
}

func TestInitRollsBackOnSourceFailure(t *testing.T) {
	r := newRig(t)
	r.source.StartError = errors.New("simulated error")

	if err := r.c.Init(); err == nil {
		t.Fatal("expected init to fail")
	}
	if !r.driver.Closed() {
		t.Error("expected driver to be released after failed init")
	}
	if err := r.c.Enable(true); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized after failed init, got %v", err)
	}
}

func TestEnableIdempotent(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error on second enable: %v", err)
	}

	if !r.c.IsEnabled() {
		t.Error("expected controller enabled")
	}
	got := r.driver.Transitions()
	if len(got) != 1 || got[0] != true {
		t.Errorf("expected a single on transition, got %v", got)
	}

	if err := r.c.Enable(false); err != nil {
		t.Fatalf("unexpected error on disable: %v", err)
	}
}

func TestDisableWhenIdleIsNoOp(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.c.Enable(false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if len(r.driver.Transitions()) != 0 {
		t.Errorf("expected no transitions, got %v", r.driver.Transitions())
	}
}

func TestEnableDriveErrorLeavesIdle(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.driver.DriveError = errors.New("simulated error")
	if err := r.c.Enable(true); err == nil {
		t.Fatal("expected enable to fail")
	}
	if r.c.IsEnabled() {
		t.Error("controller should not report enabled after failed enable")
	}

	// Still idle: disabling is a clean no-op.
	r.driver.DriveError = nil
	if err := r.c.Enable(false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDryRunFaultAfterGrace(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.c.Enable(false)

	// No pulses at all: three grace samples, then the fault.
	for i := 0; i < 3; i++ {
		s := r.waitSample(t)
		if s.fault != flow.FaultNone {
			t.Fatalf("sample %d: fault = %v, want %v during grace", i+1, s.fault, flow.FaultNone)
		}
	}

	s := r.waitSample(t)
	if s.fault != flow.FaultDryRun {
		t.Errorf("sample 4: fault = %v, want %v", s.fault, flow.FaultDryRun)
	}
	if got := r.store.Reading(); got.Fault != flow.FaultDryRun || got.FlowScaled != 0 {
		t.Errorf("store reading = %+v, want zero flow with dry-run fault", got)
	}
}

func TestFlowPreventsDryRun(t *testing.T) {
	r := newRig(t)

	// The sink leaves fresh pulses behind after every tick, so every
	// following tick sees strong flow. Running on the sampling goroutine
	// makes the feeding deterministic.
	r.c.SetSink(func(rate float64, pulses uint64, fault flow.FaultCode) {
		r.source.Pulse(30)
		r.samples <- sampleRec{rate: rate, pulses: pulses, fault: fault}
	})

	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.c.Enable(false)

	// First sample is the dry grace tick; everything after rides the flow.
	for i := 0; i < 7; i++ {
		s := r.waitSample(t)
		if s.fault != flow.FaultNone {
			t.Fatalf("sample %d: fault = %v, want %v with flow present", i+1, s.fault, flow.FaultNone)
		}
		if i > 0 && s.rate == 0 {
			t.Errorf("sample %d: rate = 0, want flow", i+1)
		}
	}

	// The stored reading is internally coherent: its scaled value derives
	// from the rate of the same tick.
	if got := r.store.Reading(); got.FlowScaled != flow.ScaleFlow(got.RateLPM) {
		t.Errorf("store reading = %+v, want scaled value matching its own rate", got)
	}
}

func TestDisableClearsFault(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Starve the pump into a dry-run fault.
	for i := 0; i < 4; i++ {
		r.waitSample(t)
	}
	if got := r.store.Fault(); got != flow.FaultDryRun {
		t.Fatalf("fault = %v, want %v before disable", got, flow.FaultDryRun)
	}

	if err := r.c.Enable(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Disable waits for the loop's final tick, so the cleared fault is
	// visible immediately after Enable returns.
	if got := r.store.Reading(); got.Fault != flow.FaultNone || got.FlowScaled != 0 {
		t.Errorf("store reading = %+v, want cleared", got)
	}
	if r.c.IsEnabled() {
		t.Error("controller should report disabled")
	}
	if r.driver.On() {
		t.Error("pump should be off")
	}
	got := r.driver.Transitions()
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("transitions = %v, want [on off]", got)
	}

	// The last published sample carries the cleared fault, and the loop
	// is gone: nothing further may arrive.
	if last, ok := r.drain(t); ok && last.fault != flow.FaultNone {
		t.Errorf("final sample fault = %v, want %v", last.fault, flow.FaultNone)
	}
	select {
	case s := <-r.samples:
		t.Fatalf("unexpected sample after disable: %+v", s)
	case <-time.After(4 * testPeriod):
	}
}

func TestUnexpectedFlowOnDisable(t *testing.T) {
	r := newRig(t)

	// Keep pulses arriving after every tick so the disable-transition
	// tick still observes flow, as a stuck relay or coasting impeller
	// would produce.
	r.c.SetSink(func(rate float64, pulses uint64, fault flow.FaultCode) {
		r.source.Pulse(50)
		r.samples <- sampleRec{rate: rate, pulses: pulses, fault: fault}
	})

	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.waitSample(t)

	if err := r.c.Enable(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := r.store.Fault(); got != flow.FaultUnexpectedFlow {
		t.Errorf("fault = %v, want %v when flow persists past disable", got, flow.FaultUnexpectedFlow)
	}
}

func TestReEnableRestartsGrace(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fault, then disable.
	for i := 0; i < 4; i++ {
		r.waitSample(t)
	}
	if err := r.c.Enable(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.drain(t)

	// Re-enabled: the grace window starts over.
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.c.Enable(false)

	s := r.waitSample(t)
	if s.fault != flow.FaultNone {
		t.Errorf("first sample after re-enable: fault = %v, want %v", s.fault, flow.FaultNone)
	}
}

func TestAccessors(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.source.Pulse(42)
	if got := r.c.PulseCount(); got != 42 {
		t.Errorf("PulseCount() = %d, want 42", got)
	}
	if got := r.c.FlowRate(); got != 0 {
		t.Errorf("FlowRate() = %v, want 0 before any sample", got)
	}
	if r.c.Store() != r.store {
		t.Error("Store() should return the wired telemetry store")
	}
}

func TestNilSinkStillPublishes(t *testing.T) {
	r := newRig(t)
	r.c.SetSink(nil)

	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.c.Enable(false)

	// The wake signal proves ticks still reach the store without a sink.
	select {
	case <-r.store.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a telemetry wake")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.waitSample(t)

	if err := r.c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.c.IsEnabled() {
		t.Error("controller should report disabled after close")
	}
	if !r.driver.Closed() {
		t.Error("driver should be closed")
	}
	if !r.source.Closed {
		t.Error("source should be closed")
	}
	got := r.driver.Transitions()
	if len(got) == 0 || got[len(got)-1] != false {
		t.Errorf("transitions = %v, want trailing off", got)
	}
}

func TestRetuneWhileRunning(t *testing.T) {
	r := newRig(t)
	if err := r.c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.c.Enable(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.c.Enable(false)

	// Retuning must not deadlock against the live sampling loop.
	r.c.Retune(0.5, 5)
	r.waitSample(t)
}
