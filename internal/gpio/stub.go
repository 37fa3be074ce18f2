//go:build !linux

package gpio

import "errors"

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// OpenOutput returns an error on non-Linux platforms.
func OpenOutput(chip string, pin int) (*RealOutput, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (o *RealOutput) Set(on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error {
	return nil
}
