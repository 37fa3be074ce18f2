// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/neuromod/internal/session"
)

// Topic is the MQTT topic for session lifecycle events.
const Topic = "neuromod/session/events"

// TopicSystem is the MQTT topic for daemon lifecycle events.
const TopicSystem = "neuromod/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a session event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event session.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a daemon lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for session events.
type Payload struct {
	Session SessionPayload `json:"session"`
}

// SessionPayload contains the session event details.
type SessionPayload struct {
	Timestamp    string        `json:"timestamp"`
	Event        string        `json:"event"`
	SessionID    string        `json:"session_id,omitempty"`
	State        string        `json:"state"`
	Reason       string        `json:"reason,omitempty"`
	Config       ConfigPayload `json:"config"`
	Pairs        int           `json:"pairs"`
	Bursts       int           `json:"bursts"`
	PortFailures int           `json:"port_failures"`
}

// ConfigPayload is the session configuration at the time of the event.
type ConfigPayload struct {
	FrequencyHz uint32 `json:"frequency_hz"`
	DurationS   uint32 `json:"duration_s"`
	TENSDelayMs uint32 `json:"tens_delay_ms"`
}

// FormatPayload creates the JSON payload for a session event.
func FormatPayload(event session.Event) ([]byte, error) {
	payload := Payload{
		Session: SessionPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:     string(event.Type),
			SessionID: event.SessionID,
			State:     string(event.State),
			Reason:    event.Reason,
			Config: ConfigPayload{
				FrequencyHz: event.Config.AudioFrequencyHz,
				DurationS:   event.Config.DurationSeconds(),
				TENSDelayMs: event.Config.DelayMs(),
			},
			Pairs:        event.Stats.Pairs,
			Bursts:       event.Stats.Bursts,
			PortFailures: event.Stats.PortFailures,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
