// Package pump drives the pump's H-bridge inputs with hardware abstraction.
// The real implementation generates a software PWM waveform on the Linux
// GPIO character device. The fake implementation records transitions for
// testing without hardware.
package pump

import (
	"fmt"
	"time"
)

// Driver controls the pump drive lines.
type Driver interface {
	// Init claims the drive lines and forces them to the safe off state.
	Init() error

	// SetDrive turns the pump waveform on or off. Calling with the current
	// state is a no-op.
	SetDrive(on bool) error

	// Close stops the waveform and releases the lines.
	Close() error
}

// Pin defaults (BCM numbering)
const (
	DefaultPWMPin = 18 // H-bridge drive input
	DefaultLowPin = 27 // H-bridge return input, held low
)

// Waveform defaults: ~1 kHz carrier at 1/16 duty. The pump is driven well
// below full power on purpose.
const (
	DefaultFrequencyHz = 1000
	DefaultDutyNum     = 1
	DefaultDutyDen     = 16
)

// dutyTimes splits one carrier period into high and low durations.
func dutyTimes(frequencyHz, dutyNum, dutyDen int) (high, low time.Duration, err error) {
	if frequencyHz <= 0 {
		return 0, 0, fmt.Errorf("pump: frequency must be positive, got %d", frequencyHz)
	}
	if dutyNum <= 0 || dutyDen <= 0 || dutyNum >= dutyDen {
		return 0, 0, fmt.Errorf("pump: duty %d/%d outside (0, 1)", dutyNum, dutyDen)
	}
	period := time.Second / time.Duration(frequencyHz)
	high = period * time.Duration(dutyNum) / time.Duration(dutyDen)
	low = period - high
	return high, low, nil
}
