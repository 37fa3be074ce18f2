//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives an actual output line using the Linux GPIO character device.
type RealOutput struct {
	line *gpiocdev.Line
	pin  int
}

// OpenOutput requests pin on chip as an output, initially inactive.
func OpenOutput(chip string, pin int) (*RealOutput, error) {
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d on %s: %w", pin, chip, err)
	}
	return &RealOutput{line: line, pin: pin}, nil
}

// Set drives the line high (on) or low (off).
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", o.pin, err)
	}
	return nil
}

// Close drives the line low, then reconfigures it to input with pull-down
// (matching Pi boot defaults) before releasing it, so the stimulator cannot
// be left energized across a restart.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive pin %d low: %w", o.pin, err))
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", o.pin, err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", o.pin, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
