// Package stim defines the stimulus output ports driven by the session
// scheduler: an audio tone port and an electrical (TENS) burst port.
//
// Port calls must return quickly. The scheduler invokes them from its timer
// callbacks and a call that blocks stalls the pair cadence.
package stim

import "fmt"

// Port names used in errors and logs.
const (
	PortAudio      = "audio"
	PortElectrical = "tens"
)

// Intensity and frequency limits enforced by the ports.
const (
	MaxIntensity     uint8  = 100
	MinFrequencyHz   uint32 = 20
	MaxFrequencyHz   uint32 = 20000
	DefaultIntensity uint8  = 0
)

// AudioPort generates the tone half of a stimulus pair.
type AudioPort interface {
	Init() error
	SetFrequency(hz uint32) error
	Start() error
	Stop() error
}

// ElectricalPort generates the TENS half of a stimulus pair. The length of
// a burst is controlled by the port hardware, not by the caller.
type ElectricalPort interface {
	Init() error
	StartBurst() error
	StopBurst() error
	// SetIntensity clamps level to MaxIntensity. Drivers without an
	// amplitude input only record it for status reporting.
	SetIntensity(level uint8) error
}

// PortError reports a failed port operation.
type PortError struct {
	Port string
	Op   string
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Port, e.Op, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// ClampIntensity limits level to MaxIntensity.
func ClampIntensity(level uint8) uint8 {
	if level > MaxIntensity {
		return MaxIntensity
	}
	return level
}
