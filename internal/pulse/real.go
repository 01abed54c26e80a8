//go:build linux

package pulse

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealSource counts sensor edges from actual hardware using the Linux GPIO
// character device.
type RealSource struct {
	chipName string
	offset   int
	counter  *Counter

	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealSource creates an edge source for the flow sensor line. The line
// is not claimed until Start.
func NewRealSource(chipName string, offset int, counter *Counter) (*RealSource, error) {
	if counter == nil {
		return nil, errors.New("pulse: counter is required")
	}
	if chipName == "" {
		chipName = DefaultChip
	}
	return &RealSource{chipName: chipName, offset: offset, counter: counter}, nil
}

// Start opens the chip and requests the sensor line with rising-edge
// events. The handler runs on the gpiocdev event goroutine and only
// increments the counter.
func (s *RealSource) Start() error {
	chip, err := gpiocdev.NewChip(s.chipName)
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}

	// The sensor output is open-collector; the internal pull-up keeps the
	// line high between pulses, so each pulse is one rising edge.
	line, err := chip.RequestLine(s.offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(s.handleEvent),
	)
	if err != nil {
		chip.Close()
		return fmt.Errorf("request sensor pin %d: %w", s.offset, err)
	}

	s.chip = chip
	s.line = line
	return nil
}

func (s *RealSource) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	s.counter.Record()
}

// Close releases the sensor line.
func (s *RealSource) Close() error {
	var errs []error

	if s.line != nil {
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sensor pin: %w", err))
		}
		s.line = nil
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
