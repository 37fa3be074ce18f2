package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/neuromod/internal/mqtt"
	"github.com/sweeney/neuromod/internal/session"
	"github.com/sweeney/neuromod/internal/status"
	"github.com/sweeney/neuromod/internal/stim"
	"github.com/sweeney/neuromod/internal/timer"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

// --- config loading ---

func TestLoadConfigDefaults(t *testing.T) {
	cfg, printConfig, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if printConfig {
		t.Error("printConfig should default to false")
	}
	if cfg.Session.FrequencyHz != 7000 || cfg.Session.DurationMinutes != 30 || cfg.Session.TENSDelayMs != 10 {
		t.Errorf("session defaults: got %+v", cfg.Session)
	}
	if cfg.AutoStart {
		t.Error("autostart should default to false")
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuromod.yaml")
	yaml := "mqtt:\n  broker: tcp://file:1883\nsession:\n  frequency_hz: 5000\n  tens_delay_ms: 20\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, printConfig, err := loadConfig([]string{
		"-config", path,
		"-frequency", "6000",
		"-http", ":8080",
		"-autostart",
		"-print-config",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !printConfig {
		t.Error("expected printConfig=true")
	}
	if cfg.Session.FrequencyHz != 6000 {
		t.Errorf("frequency: got %d, want flag value 6000", cfg.Session.FrequencyHz)
	}
	if cfg.Session.TENSDelayMs != 20 {
		t.Errorf("delay: got %d, want file value 20", cfg.Session.TENSDelayMs)
	}
	if cfg.MQTT.Broker != "tcp://file:1883" {
		t.Errorf("broker: got %q, want file value", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != ":8080" || !cfg.AutoStart {
		t.Errorf("flags not applied: http=%q autostart=%v", cfg.HTTP.Addr, cfg.AutoStart)
	}
}

func TestLoadConfigUnsetFlagsKeepFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuromod.yaml")
	if err := os.WriteFile(path, []byte("hardware:\n  pin_tens: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := loadConfig([]string{"-config", path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Hardware.PinTENS != 5 {
		t.Errorf("pin_tens: got %d, want 5", cfg.Hardware.PinTENS)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, _, err := loadConfig([]string{"-no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if _, _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing config file")
	}
	if _, _, err := loadConfig([]string{"-pin-tens", "4", "-pin-audio", "4"}); err == nil {
		t.Error("expected validation error for shared pin")
	}
	if _, _, err := loadConfig([]string{"-h"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h: got %v, want flag.ErrHelp", err)
	}
}

// --- runLoop tests ---

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type loopEnv struct {
	sched     *session.Scheduler
	timers    *timer.Fake
	rec       *stim.Recorder
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	events    chan session.Event
	heartbeat chan time.Time
	autostart chan time.Time
	sig       chan os.Signal
	done      chan error
}

func newLoopEnv() *loopEnv {
	env := &loopEnv{
		timers:    timer.NewFake(epoch),
		pub:       mqtt.NewFakePublisher(),
		events:    make(chan session.Event, eventBuffer),
		heartbeat: make(chan time.Time),
		autostart: make(chan time.Time, 1),
		sig:       make(chan os.Signal, 1),
		done:      make(chan error, 1),
	}
	env.rec = stim.NewRecorder(env.timers.Now)
	env.pub.Connected = true

	env.sched = session.NewScheduler(session.Deps{
		Audio:      stim.NewFakeAudio(env.rec),
		Electrical: stim.NewFakeElectrical(env.rec),
		Timers:     env.timers,
		Now:        env.timers.Now,
		Notify:     queueEvents(env.events),
		NewID:      func() string { return "session-1" },
	})
	env.sched.SetSessionDuration(1)
	env.tracker = status.NewTracker(epoch, status.Config{Broker: "tcp://test:1883"})
	return env
}

func (env *loopEnv) run() *loopEnv {
	go func() {
		env.done <- runLoop(loop{
			sched:      env.sched,
			publisher:  env.pub,
			mqttStatus: env.pub,
			tracker:    env.tracker,
			now:        env.timers.Now,
			events:     env.events,
			heartbeat:  env.heartbeat,
			autostart:  env.autostart,
			sig:        env.sig,
		})
	}()
	return env
}

func startLoop(t *testing.T) *loopEnv {
	t.Helper()
	return newLoopEnv().run()
}

func (env *loopEnv) stop(t *testing.T, s os.Signal) {
	t.Helper()
	env.sig <- s
	select {
	case err := <-env.done:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasType(types []session.EventType, want session.EventType) bool {
	for _, et := range types {
		if et == want {
			return true
		}
	}
	return false
}

func TestRunLoopShutdownPublishesSnapshot(t *testing.T) {
	for _, tt := range []struct {
		sig  os.Signal
		name string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			env := startLoop(t)
			env.stop(t, tt.sig)

			if len(env.pub.SystemEvents) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(env.pub.SystemEvents))
			}
			ev := env.pub.SystemEvents[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.name || !ev.Retained {
				t.Errorf("shutdown event: got %+v", ev)
			}
			payload := string(env.pub.SystemPayloads[0])
			for _, want := range []string{`"event":"SHUTDOWN"`, `"reason":"` + tt.name + `"`, `"state":"IDLE"`, `"connected":true`} {
				if !strings.Contains(payload, want) {
					t.Errorf("payload missing %s: %s", want, payload)
				}
			}
		})
	}
}

func TestRunLoopAutostartPublishesSessionEvents(t *testing.T) {
	env := startLoop(t)
	env.autostart <- epoch

	waitFor(t, "SESSION_STARTED", func() bool {
		return hasType(env.pub.EventTypes(), session.EventSessionStarted)
	})
	if got := env.sched.State(); got != session.StateRunning {
		t.Fatalf("state: got %s, want RUNNING", got)
	}
	waitFor(t, "tracker RUNNING", func() bool {
		return env.tracker.Snapshot().State == session.StateRunning
	})

	env.stop(t, syscall.SIGTERM)

	if got := env.sched.State(); got != session.StateIdle {
		t.Errorf("state after shutdown: got %s, want IDLE", got)
	}
	if !hasType(env.pub.EventTypes(), session.EventSessionStopped) {
		t.Errorf("expected SESSION_STOPPED before shutdown, got %v", env.pub.EventTypes())
	}
	if names := env.pub.SystemEventNames(); len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Errorf("system events: got %v", names)
	}
	if env.rec.Count(stim.PortAudio, "stop") == 0 || env.rec.Count(stim.PortElectrical, "stop_burst") == 0 {
		t.Errorf("outputs should be commanded off on shutdown: %v", env.rec.Ops())
	}
}

func TestRunLoopCompletedSessionIsPublished(t *testing.T) {
	env := startLoop(t)
	env.autostart <- epoch
	waitFor(t, "RUNNING", func() bool { return env.sched.State() == session.StateRunning })

	env.timers.Advance(time.Minute)

	waitFor(t, "SESSION_COMPLETED", func() bool {
		return hasType(env.pub.EventTypes(), session.EventSessionCompleted)
	})
	waitFor(t, "tracker pairs", func() bool {
		return env.tracker.Snapshot().Stats.Pairs == 120
	})
	env.stop(t, syscall.SIGINT)

	if hasType(env.pub.EventTypes(), session.EventSessionStopped) {
		t.Error("an already completed session should not be stopped again")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.1.2.3")

	env := startLoop(t)
	env.heartbeat <- epoch.Add(15 * time.Minute)

	waitFor(t, "HEARTBEAT", func() bool {
		names := env.pub.SystemEventNames()
		return len(names) == 1 && names[0] == "HEARTBEAT"
	})
	env.stop(t, syscall.SIGTERM)

	hb := env.pub.SystemEvents[0]
	if hb.Retained {
		t.Error("heartbeat should not be retained")
	}
	if !hb.Timestamp.Equal(epoch.Add(15 * time.Minute)) {
		t.Errorf("heartbeat timestamp: got %v", hb.Timestamp)
	}
	payload := string(env.pub.SystemPayloads[0])
	for _, want := range []string{`"event":"HEARTBEAT"`, `"ip":"10.1.2.3"`, `"broker":"tcp://test:1883"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("heartbeat payload missing %s: %s", want, payload)
		}
	}
}

func TestRunLoopPublishErrorDoesNotStop(t *testing.T) {
	env := newLoopEnv()
	env.pub.PublishError = errors.New("broker down")
	env.run()

	env.autostart <- epoch
	waitFor(t, "tracker RUNNING", func() bool {
		return env.tracker.Snapshot().State == session.StateRunning
	})

	env.stop(t, syscall.SIGTERM)
	if len(env.pub.Events) != 0 {
		t.Errorf("failed publishes should not be recorded, got %d", len(env.pub.Events))
	}
	if len(env.pub.SystemEvents) != 1 {
		t.Errorf("shutdown should still be published, got %d system events", len(env.pub.SystemEvents))
	}
}

func TestQueueEventsDropsWhenFull(t *testing.T) {
	ch := make(chan session.Event, 1)
	notify := queueEvents(ch)

	notify(session.Event{Type: session.EventSessionStarted})
	notify(session.Event{Type: session.EventSessionStopped})

	if len(ch) != 1 {
		t.Fatalf("queue length: got %d, want 1", len(ch))
	}
	if e := <-ch; e.Type != session.EventSessionStarted {
		t.Errorf("kept event: got %s, want SESSION_STARTED", e.Type)
	}
}
