// Package status provides a thread-safe status tracker for the neuromod daemon.
// It is read by HTTP handlers, the websocket stream and MQTT heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/neuromod/internal/session"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs   int64
	Broker        string
	HTTPAddr      string
	Chip          string
	PinTENS       int
	PinAudio      int
	TENSIntensity uint8
	Policy        string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         session.State
	Session       session.Config
	Stats         session.Stats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// SessionElapsed returns how long the current session has been running,
// or zero when no session is running.
func (s Snapshot) SessionElapsed() time.Duration {
	if s.State != session.StateRunning || s.Stats.SessionStart.IsZero() {
		return 0
	}
	return s.Now.Sub(s.Stats.SessionStart)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     session.StateIdle,
			Session:   session.DefaultConfig(),
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update records the scheduler state, configuration and counters.
// Called from runLoop on every session event.
func (t *Tracker) Update(state session.State, cfg session.Config, stats session.Stats) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Session = cfg
	t.snap.Stats = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
