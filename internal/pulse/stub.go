//go:build !linux

package pulse

import "errors"

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chipName string, offset int, counter *Counter) (*RealSource, error) {
	return nil, errors.New("pulse: not supported on this platform (requires Linux)")
}

// Start is not implemented on non-Linux platforms.
func (s *RealSource) Start() error {
	return errors.New("pulse: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}
