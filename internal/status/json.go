package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Session       SessionJSON  `json:"session"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// SessionJSON reports the session configuration and counters.
type SessionJSON struct {
	ID             string `json:"id,omitempty"`
	StartedAt      string `json:"started_at,omitempty"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	FrequencyHz    uint32 `json:"frequency_hz"`
	DurationS      uint32 `json:"duration_s"`
	TENSDelayMs    uint32 `json:"tens_delay_ms"`
	Pairs          int    `json:"pairs"`
	Bursts         int    `json:"bursts"`
	Sessions       int    `json:"sessions"`
	PortFailures   int    `json:"port_failures"`
	FaultReason    string `json:"fault_reason,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	Chip          string `json:"chip"`
	PinTENS       int    `json:"pin_tens"`
	PinAudio      int    `json:"pin_audio"`
	TENSIntensity uint8  `json:"tens_intensity"`
	Policy        string `json:"failure_policy"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	sess := SessionJSON{
		ID:             snap.Stats.SessionID,
		ElapsedSeconds: int64(snap.SessionElapsed().Truncate(time.Second).Seconds()),
		FrequencyHz:    snap.Session.AudioFrequencyHz,
		DurationS:      snap.Session.DurationSeconds(),
		TENSDelayMs:    snap.Session.DelayMs(),
		Pairs:          snap.Stats.Pairs,
		Bursts:         snap.Stats.Bursts,
		Sessions:       snap.Stats.Sessions,
		PortFailures:   snap.Stats.PortFailures,
		FaultReason:    snap.Stats.FaultReason,
	}
	if !snap.Stats.SessionStart.IsZero() {
		sess.StartedAt = snap.Stats.SessionStart.UTC().Format(time.RFC3339)
	}

	inner := StatusInner{
		State:         state,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Session:       sess,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			Chip:          snap.Config.Chip,
			PinTENS:       snap.Config.PinTENS,
			PinAudio:      snap.Config.PinAudio,
			TENSIntensity: snap.Config.TENSIntensity,
			Policy:        snap.Config.Policy,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// Build returns the status body for a snapshot. It is exported for the
// websocket stream, which embeds it in its own envelope.
func Build(snap Snapshot) StatusInner {
	return buildInner(snap)
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
