// Package config loads the daemon's startup configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/neuromod/internal/gpio"
	"github.com/sweeney/neuromod/internal/session"
)

type Config struct {
	Session    SessionConfig  `yaml:"session"`
	Hardware   HardwareConfig `yaml:"hardware"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	HTTP       HTTPConfig     `yaml:"http"`
	Heartbeat  time.Duration  `yaml:"heartbeat"`
	AutoStart  bool           `yaml:"autostart"`
	StartDelay time.Duration  `yaml:"start_delay"`
}

type SessionConfig struct {
	FrequencyHz     uint32 `yaml:"frequency_hz"`
	DurationMinutes uint32 `yaml:"duration_minutes"`
	TENSDelayMs     uint32 `yaml:"tens_delay_ms"`
	TENSIntensity   uint8  `yaml:"tens_intensity"`
	// FaultAfterFailures > 0 faults the session after that many consecutive
	// port failures. 0 logs and continues.
	FaultAfterFailures int `yaml:"fault_after_failures"`
}

type HardwareConfig struct {
	Chip     string `yaml:"chip"`
	PinTENS  int    `yaml:"pin_tens"`
	PinAudio int    `yaml:"pin_audio"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	def := session.DefaultConfig()
	return &Config{
		Session: SessionConfig{
			FrequencyHz:     def.AudioFrequencyHz,
			DurationMinutes: uint32(def.SessionDuration / time.Minute),
			TENSDelayMs:     def.DelayMs(),
		},
		Hardware: HardwareConfig{
			Chip:     gpio.DefaultChip,
			PinTENS:  gpio.DefaultPinTENS,
			PinAudio: gpio.DefaultPinAudio,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://192.168.1.200:1883",
			ClientID: "neuromod",
		},
		HTTP:       HTTPConfig{Addr: ":80"},
		Heartbeat:  15 * time.Minute,
		StartDelay: 2 * time.Second,
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values. An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with. Session
// values are not checked here: the scheduler clamps or accepts them.
func (c *Config) Validate() error {
	if c.Hardware.Chip == "" {
		return fmt.Errorf("hardware.chip is empty")
	}
	if c.Hardware.PinTENS < 0 || c.Hardware.PinAudio < 0 {
		return fmt.Errorf("hardware pins must be >= 0")
	}
	if c.Hardware.PinTENS == c.Hardware.PinAudio {
		return fmt.Errorf("hardware.pin_tens and hardware.pin_audio are both %d", c.Hardware.PinTENS)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must be >= 0")
	}
	if c.StartDelay < 0 {
		return fmt.Errorf("start_delay must be >= 0")
	}
	return nil
}

// SessionSetter is the configuration surface of the scheduler.
type SessionSetter interface {
	SetAudioFrequency(hz uint32)
	SetSessionDuration(minutes uint32)
	SetTENSDelay(ms uint32)
}

// Apply pushes the session parameters through the scheduler's setters so
// that clamping and logging happen in one place.
func (c *Config) Apply(s SessionSetter) {
	s.SetAudioFrequency(c.Session.FrequencyHz)
	s.SetSessionDuration(c.Session.DurationMinutes)
	s.SetTENSDelay(c.Session.TENSDelayMs)
}

// Policy returns the failure policy selected by session.fault_after_failures.
func (c *Config) Policy() session.FailurePolicy {
	return session.PolicyFor(c.Session.FaultAfterFailures)
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
