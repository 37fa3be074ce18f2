package web

import (
	"time"

	"github.com/sweeney/neuromod/internal/session"
	"github.com/sweeney/neuromod/internal/status"
)

// Websocket message types.
const (
	MsgSnapshot = "snapshot"
	MsgEvent    = "event"
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventPayload is a session event as streamed to websocket clients.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Pairs     int    `json:"pairs"`
	Bursts    int    `json:"bursts"`
}

// ControlResponse is returned by the session control endpoints.
type ControlResponse struct {
	State string `json:"state"`
}

func eventMessage(e session.Event) WSMessage {
	return WSMessage{
		Type: MsgEvent,
		Payload: EventPayload{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
			Event:     string(e.Type),
			State:     string(e.State),
			SessionID: e.SessionID,
			Reason:    e.Reason,
			Pairs:     e.Stats.Pairs,
			Bursts:    e.Stats.Bursts,
		},
	}
}

func snapshotMessage(snap status.Snapshot) WSMessage {
	return WSMessage{Type: MsgSnapshot, Payload: status.Build(snap)}
}
