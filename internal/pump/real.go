//go:build linux

package pump

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealDriver drives the pump through two GPIO output lines on actual
// hardware. The waveform is generated in software: scheduler jitter moves
// individual edges, but the duty ratio, which sets average pump power, is
// held.
type RealDriver struct {
	chipName string
	pwmPin   int
	lowPin   int
	high     time.Duration
	low      time.Duration

	mu      sync.Mutex
	chip    *gpiocdev.Chip
	pwmLine *gpiocdev.Line
	lowLine *gpiocdev.Line
	on      bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRealDriver creates a driver for the pump drive lines. The lines are
// not claimed until Init.
func NewRealDriver(chipName string, pwmPin, lowPin, frequencyHz, dutyNum, dutyDen int) (*RealDriver, error) {
	high, low, err := dutyTimes(frequencyHz, dutyNum, dutyDen)
	if err != nil {
		return nil, err
	}
	if chipName == "" {
		chipName = "gpiochip0"
	}
	return &RealDriver{
		chipName: chipName,
		pwmPin:   pwmPin,
		lowPin:   lowPin,
		high:     high,
		low:      low,
	}, nil
}

// Init opens the chip and claims both drive lines in the off state.
func (d *RealDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.chip != nil {
		return nil
	}

	chip, err := gpiocdev.NewChip(d.chipName)
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}

	pwmLine, err := chip.RequestLine(d.pwmPin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return fmt.Errorf("request drive pin %d: %w", d.pwmPin, err)
	}

	lowLine, err := chip.RequestLine(d.lowPin, gpiocdev.AsOutput(0))
	if err != nil {
		pwmLine.Close()
		chip.Close()
		return fmt.Errorf("request low-side pin %d: %w", d.lowPin, err)
	}

	d.chip = chip
	d.pwmLine = pwmLine
	d.lowLine = lowLine
	return nil
}

// SetDrive starts or stops the waveform. Same-state calls are no-ops.
func (d *RealDriver) SetDrive(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pwmLine == nil {
		return errors.New("pump: driver not initialized")
	}
	if on == d.on {
		return nil
	}

	if on {
		// The low-side input must be inactive before the waveform starts.
		if err := d.lowLine.SetValue(0); err != nil {
			return fmt.Errorf("clear low-side pin: %w", err)
		}
		d.stopCh = make(chan struct{})
		d.wg.Add(1)
		go d.waveform(d.stopCh)
		d.on = true
		return nil
	}

	// Stop the waveform first, then force both lines low so no drive
	// energy remains regardless of where the loop was stopped.
	close(d.stopCh)
	d.wg.Wait()
	d.on = false
	if err := d.pwmLine.SetValue(0); err != nil {
		return fmt.Errorf("clear drive pin: %w", err)
	}
	if err := d.lowLine.SetValue(0); err != nil {
		return fmt.Errorf("clear low-side pin: %w", err)
	}
	return nil
}

// waveform toggles the drive line until stopped. Stop latency is at most
// one carrier period.
func (d *RealDriver) waveform(stop chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		d.pwmLine.SetValue(1)
		time.Sleep(d.high)
		d.pwmLine.SetValue(0)
		time.Sleep(d.low)
	}
}

// Close stops the pump and releases the lines, restoring them to inputs so
// the H-bridge sees the board's boot state.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.on {
		close(d.stopCh)
		d.wg.Wait()
		d.on = false
	}

	var errs []error

	if d.pwmLine != nil {
		if err := d.pwmLine.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear drive pin: %w", err))
		}
		if err := d.pwmLine.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure drive pin: %w", err))
		}
		if err := d.pwmLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close drive pin: %w", err))
		}
		d.pwmLine = nil
	}
	if d.lowLine != nil {
		if err := d.lowLine.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear low-side pin: %w", err))
		}
		if err := d.lowLine.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure low-side pin: %w", err))
		}
		if err := d.lowLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close low-side pin: %w", err))
		}
		d.lowLine = nil
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
