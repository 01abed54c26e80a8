package flow

import (
	"math"
	"sync"
	"time"
)

// Reference calibration for the YF-S201 hall sensor: 5.71 pulses per second
// at 1 L/min.
const DefaultPulsesPerLPM = 5.71

const (
	DefaultMinFlowLPM   = 0.2
	DefaultGraceSamples = 3
	DefaultPeriod       = time.Second

	// enabledSampleCap bounds the enabled-sample counter. GraceSamples is
	// clamped to it: a grace window beyond the counter's reach would never
	// end, silently disabling the dry-run check.
	enabledSampleCap = 250
)

// Config holds the sampler tunables. Zero fields fall back to the reference
// calibration.
type Config struct {
	// PulsesPerLPM converts pulse frequency to flow rate.
	PulsesPerLPM float64
	// Period is the sampling interval the pulse deltas are normalized by.
	Period time.Duration
	// MinFlowLPM is the rate below which an enabled pump counts as dry.
	MinFlowLPM float64
	// GraceSamples is how many samples after enable are exempt from the
	// dry-run check, covering priming time.
	GraceSamples int
}

// Sampler converts pulse-counter deltas into flow rates and evaluates the
// dry-run policy. Tick is driven from a single goroutine; Rebase, Rate and
// SetTuning may be called from others.
type Sampler struct {
	mu          sync.Mutex
	cfg         Config
	lastPulses  uint64
	lastRate    float64
	sinceEnable int
}

// NewSampler creates a sampler with the given tunables.
func NewSampler(cfg Config) *Sampler {
	if cfg.PulsesPerLPM <= 0 {
		cfg.PulsesPerLPM = DefaultPulsesPerLPM
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.MinFlowLPM <= 0 {
		cfg.MinFlowLPM = DefaultMinFlowLPM
	}
	if cfg.GraceSamples <= 0 {
		cfg.GraceSamples = DefaultGraceSamples
	}
	if cfg.GraceSamples > enabledSampleCap {
		cfg.GraceSamples = enabledSampleCap
	}
	return &Sampler{cfg: cfg}
}

// Rebase resets the delta origin so the next tick measures only pulses seen
// after this call, and restarts the post-enable grace window.
func (s *Sampler) Rebase(pulses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPulses = pulses
	s.sinceEnable = 0
}

// Tick computes the sample for one period.
//
// The grace window counts completed samples: with GraceSamples=3 the first
// three enabled evaluations are exempt and a dry pump faults on the fourth.
func (s *Sampler) Tick(in TickInput) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A snapshot below the previous one means the counter was reset or
	// replaced; count the period as empty rather than as a huge delta.
	var delta uint64
	if in.Pulses >= s.lastPulses {
		delta = in.Pulses - s.lastPulses
	}
	s.lastPulses = in.Pulses

	rate := (float64(delta) / s.cfg.Period.Seconds()) / s.cfg.PulsesPerLPM
	s.lastRate = rate

	fault := FaultNone
	if in.Enabled {
		if s.sinceEnable >= s.cfg.GraceSamples && rate < s.cfg.MinFlowLPM {
			fault = FaultDryRun
		}
		if s.sinceEnable < enabledSampleCap {
			s.sinceEnable++
		}
	} else {
		s.sinceEnable = 0
		if rate > s.cfg.MinFlowLPM {
			fault = FaultUnexpectedFlow
		}
	}

	return Sample{
		Timestamp: in.Time,
		Pulses:    in.Pulses,
		Delta:     delta,
		RateLPM:   rate,
		Fault:     fault,
	}
}

// Rate returns the most recently computed flow rate in L/min.
func (s *Sampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRate
}

// SetTuning adjusts the dry-run thresholds on a live sampler. Zero or
// negative values leave the corresponding setting unchanged; a grace window
// above the enabled-sample cap is clamped to it.
func (s *Sampler) SetTuning(minFlowLPM float64, graceSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minFlowLPM > 0 {
		s.cfg.MinFlowLPM = minFlowLPM
	}
	if graceSamples > enabledSampleCap {
		graceSamples = enabledSampleCap
	}
	if graceSamples > 0 {
		s.cfg.GraceSamples = graceSamples
	}
}

// scaleNudge absorbs the binary representation error of decimal rates:
// 1.005 is stored as 1.00499..., which would otherwise round down.
const scaleNudge = 1e-9

// ScaleFlow converts a rate in L/min to the fixed-point hundredths value
// carried in telemetry, rounding half up and saturating at the uint16
// ceiling (655.35 L/min).
func ScaleFlow(rate float64) uint16 {
	if rate <= 0 {
		return 0
	}
	scaled := math.Floor(rate*100 + 0.5 + scaleNudge)
	if scaled > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(scaled)
}
