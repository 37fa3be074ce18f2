// Package gpio provides GPIO output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single logical output line.
type Output interface {
	// Set drives the line active (true) or inactive (false).
	Set(on bool) error

	// Close drives the line inactive and releases it.
	Close() error
}

// Default line configuration (BCM numbering).
const (
	DefaultChip     = "gpiochip0"
	DefaultPinTENS  = 17 // TENS burst gate
	DefaultPinAudio = 27 // tone generator / amplifier enable
)

// Consumer is the label attached to requested lines, visible in gpioinfo.
const Consumer = "neuromod"
