// Package timer provides one-shot timers with an injectable implementation.
// The real implementation is backed by time.AfterFunc.
// The fake implementation runs on virtual time for deterministic tests.
package timer

import (
	"errors"
	"time"
)

// ErrNilCallback is returned by Create when no callback is supplied.
var ErrNilCallback = errors.New("timer: nil callback")

// ErrNegativeDelay is returned by ArmOnce for delays below zero.
var ErrNegativeDelay = errors.New("timer: negative delay")

// Service creates one-shot timers.
type Service interface {
	// Create returns an idle timer that calls fn each time it fires.
	// The name is used for logging and test assertions only.
	Create(name string, fn func()) (Timer, error)
}

// Timer is a single re-armable one-shot timer.
type Timer interface {
	// ArmOnce schedules the callback to run once after d.
	// Arming an already armed timer replaces the pending deadline.
	ArmOnce(d time.Duration) error

	// Cancel disarms the timer. Cancelling an idle timer is not an error.
	// A callback that has already been dispatched may still run.
	Cancel() error

	// Claim reports whether the current arm has fired and not yet been
	// claimed, and consumes it. A callback calls Claim while holding the
	// lock that also guards ArmOnce and Cancel; false means the timer was
	// re-armed or cancelled after this callback was dispatched.
	Claim() bool
}
