//go:build !linux

package pump

import "errors"

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(chipName string, pwmPin, lowPin, frequencyHz, dutyNum, dutyDen int) (*RealDriver, error) {
	return nil, errors.New("pump: not supported on this platform (requires Linux)")
}

// Init is not implemented on non-Linux platforms.
func (d *RealDriver) Init() error {
	return errors.New("pump: not supported")
}

// SetDrive is not implemented on non-Linux platforms.
func (d *RealDriver) SetDrive(on bool) error {
	return errors.New("pump: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
