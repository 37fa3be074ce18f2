// Package session contains the stimulus-pair scheduler and its state machine.
// Time is injected through a timer.Service and a now function; the package
// never sleeps or polls.
package session

import "time"

// State is the scheduler state. Exactly one is active at any instant.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateFault   State = "FAULT"
)

// PairPeriod is the fixed repetition period between pair cycles. It does
// not depend on configuration.
const PairPeriod = 500 * time.Millisecond

// Session duration bounds, in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 60
)

// ClinicalDelayMax is the upper end of the inter-stimulus window the
// protocol is designed for. Delays outside (0, ClinicalDelayMax) are stored
// but logged as a warning.
const ClinicalDelayMax = 40 * time.Millisecond

// Timer names.
const (
	TimerPairTrigger   = "pair_trigger"
	TimerStimulusDelay = "stimulus_delay"
	TimerSessionEnd    = "session_end"
)

// Config holds the operator-supplied session parameters.
type Config struct {
	AudioFrequencyHz uint32
	SessionDuration  time.Duration
	StimulusDelay    time.Duration
}

// DefaultConfig returns the configuration in effect at process start.
func DefaultConfig() Config {
	return Config{
		AudioFrequencyHz: 7000,
		SessionDuration:  30 * time.Minute,
		StimulusDelay:    10 * time.Millisecond,
	}
}

// DurationSeconds returns the session duration in whole seconds.
func (c Config) DurationSeconds() uint32 {
	return uint32(c.SessionDuration / time.Second)
}

// DelayMs returns the inter-stimulus delay in whole milliseconds.
func (c Config) DelayMs() uint32 {
	return uint32(c.StimulusDelay / time.Millisecond)
}

// ClampDurationMinutes coerces minutes into [MinDurationMinutes, MaxDurationMinutes].
func ClampDurationMinutes(minutes uint32) uint32 {
	if minutes < MinDurationMinutes {
		return MinDurationMinutes
	}
	if minutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return minutes
}

// EventType identifies a scheduler lifecycle event.
type EventType string

const (
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventSessionStopped   EventType = "SESSION_STOPPED"
	EventSessionCompleted EventType = "SESSION_COMPLETED"
	EventFault            EventType = "FAULT"
	EventPortFailure      EventType = "PORT_FAILURE"
	EventConfigChanged    EventType = "CONFIG_CHANGED"
)

// Event is a lifecycle notification emitted by the scheduler.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	SessionID string
	// Reason carries the fault reason or the failed port operation.
	Reason string
	Config Config
	Stats  Stats
}

// Stats counts scheduler activity. Pairs, Bursts and SessionStart refer to
// the current (or most recent) session; the rest are totals since start.
type Stats struct {
	SessionID           string
	SessionStart        time.Time
	Pairs               int
	Bursts              int
	Sessions            int
	PortFailures        int
	ConsecutiveFailures int
	FaultReason         string
}
