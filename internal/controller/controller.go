// Package controller owns the pump lifecycle: one-time initialization, the
// enable/disable state machine, and the periodic sampling loop that feeds
// the telemetry store.
package controller

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
	"github.com/sweeney/pump-controller/internal/metrics"
	"github.com/sweeney/pump-controller/internal/pulse"
	"github.com/sweeney/pump-controller/internal/pump"
	"github.com/sweeney/pump-controller/internal/telemetry"
)

// ErrNotInitialized is returned when Enable is called before Init.
var ErrNotInitialized = errors.New("controller: not initialized")

// Sink receives every computed sample synchronously on the sampling
// goroutine. A sink must return promptly and must not call back into
// Enable, which waits on the goroutine the sink runs on.
type Sink func(rateLPM float64, pulses uint64, fault flow.FaultCode)

type state int

const (
	stateUninitialized state = iota
	stateIdle
	stateRunning
)

// Config carries the controller timing knobs.
type Config struct {
	// Period is the sampling interval. It must match the period the
	// sampler normalizes deltas by. Defaults to one second.
	Period time.Duration

	// Now supplies sample timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Controller wires the edge counter, pump driver, sampler and telemetry
// store together behind the public enable/disable API.
type Controller struct {
	counter *pulse.Counter
	source  pulse.Source
	driver  pump.Driver
	sampler *flow.Sampler
	store   *telemetry.Store

	period time.Duration
	now    func() time.Time

	mu     sync.Mutex // guards st, stopCh and the enable/disable sequence
	st     state
	stopCh chan struct{}
	wg     sync.WaitGroup

	enabled atomic.Bool

	sinkMu sync.Mutex
	sink   Sink
}

// New creates a controller. Init must be called before Enable.
func New(counter *pulse.Counter, source pulse.Source, driver pump.Driver, sampler *flow.Sampler, store *telemetry.Store, cfg Config) *Controller {
	if cfg.Period <= 0 {
		cfg.Period = flow.DefaultPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		counter: counter,
		source:  source,
		driver:  driver,
		sampler: sampler,
		store:   store,
		period:  cfg.Period,
		now:     cfg.Now,
	}
}

// Init claims the pump lines in their safe off state and starts edge
// counting. Idempotent: a second call is a no-op.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st != stateUninitialized {
		return nil
	}

	if err := c.driver.Init(); err != nil {
		return fmt.Errorf("init pump driver: %w", err)
	}
	if err := c.source.Start(); err != nil {
		c.driver.Close()
		return fmt.Errorf("start pulse source: %w", err)
	}

	c.st = stateIdle
	return nil
}

// Enable turns the pump and the sampling loop on or off. Enabling when
// already running and disabling when already idle are no-ops. Disable
// returns only after the loop has exited; the loop's final tick observes
// the disabled state, which clears any dry-run fault.
func (c *Controller) Enable(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.st {
	case stateUninitialized:
		return ErrNotInitialized
	case stateRunning:
		if on {
			return nil
		}
		return c.disableLocked()
	default: // stateIdle
		if !on {
			return nil
		}
		return c.enableLocked()
	}
}

func (c *Controller) enableLocked() error {
	// The first sample after enable must measure only new pulses.
	c.sampler.Rebase(c.counter.Snapshot())
	c.store.SetFault(flow.FaultNone)

	if err := c.driver.SetDrive(true); err != nil {
		return fmt.Errorf("drive pump on: %w", err)
	}

	c.enabled.Store(true)
	metrics.SetEnabled(true)
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.stopCh)
	c.st = stateRunning
	return nil
}

func (c *Controller) disableLocked() error {
	// Order matters: the loop's final tick must observe the disabled
	// state, so the flag is cleared before the stop channel wakes it.
	c.enabled.Store(false)
	metrics.SetEnabled(false)
	close(c.stopCh)
	c.wg.Wait()

	err := c.driver.SetDrive(false)
	c.st = stateIdle
	if err != nil {
		return fmt.Errorf("drive pump off: %w", err)
	}
	return nil
}

// run is the periodic sampling loop. On stop it performs one final tick so
// the disabled state is published exactly once, then exits.
func (c *Controller) run(stop chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.tick()
			return
		case <-ticker.C:
			if !c.tick() {
				// Disable landed between the ticker firing and the
				// enabled read; that tick already published the
				// disabled state.
				return
			}
		}
	}
}

// tick runs one sampling period and reports whether the pump was enabled
// when it ran.
func (c *Controller) tick() bool {
	enabled := c.enabled.Load()
	s := c.sampler.Tick(flow.TickInput{
		Pulses:  c.counter.Snapshot(),
		Enabled: enabled,
		Time:    c.now(),
	})

	c.store.SetReading(telemetry.Reading{
		RateLPM:    s.RateLPM,
		FlowScaled: flow.ScaleFlow(s.RateLPM),
		Fault:      s.Fault,
	})
	c.store.Signal()
	metrics.ObserveSample(s)

	c.sinkMu.Lock()
	sink := c.sink
	c.sinkMu.Unlock()
	if sink != nil {
		sink(s.RateLPM, s.Pulses, s.Fault)
	}

	return enabled
}

// IsEnabled reports whether the pump drive is on.
func (c *Controller) IsEnabled() bool {
	return c.enabled.Load()
}

// FlowRate returns the last computed flow rate in L/min.
func (c *Controller) FlowRate() float64 {
	return c.sampler.Rate()
}

// PulseCount returns the current edge-counter snapshot.
func (c *Controller) PulseCount() uint64 {
	return c.counter.Snapshot()
}

// Store returns the telemetry cell shared with the transport layer.
func (c *Controller) Store() *telemetry.Store {
	return c.store
}

// SetSink replaces the sample sink. A nil sink disables fan-out. The
// change takes effect on the next sample.
func (c *Controller) SetSink(fn Sink) {
	c.sinkMu.Lock()
	c.sink = fn
	c.sinkMu.Unlock()
}

// Retune adjusts the dry-run thresholds on the live sampler.
func (c *Controller) Retune(minFlowLPM float64, graceSamples int) {
	c.sampler.SetTuning(minFlowLPM, graceSamples)
}

// Close disables the pump if needed and releases the hardware.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.st == stateRunning {
		if err := c.disableLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pulse source: %w", err))
	}
	if err := c.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pump driver: %w", err))
	}
	return errors.Join(errs...)
}
