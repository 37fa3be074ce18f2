// Command neuromod runs paired audio/TENS stimulation sessions and publishes
// their lifecycle to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/neuromod/internal/config"
	"github.com/sweeney/neuromod/internal/gpio"
	"github.com/sweeney/neuromod/internal/mqtt"
	"github.com/sweeney/neuromod/internal/session"
	"github.com/sweeney/neuromod/internal/status"
	"github.com/sweeney/neuromod/internal/stim"
	"github.com/sweeney/neuromod/internal/timer"
	"github.com/sweeney/neuromod/internal/web"
)

// eventBuffer bounds the queue between scheduler callbacks and runLoop.
const eventBuffer = 256

func main() {
	cfg, printConfig, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("fatal: %v", err)
	}

	if printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		os.Stdout.Write(data)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

type flagValues struct {
	configPath  string
	broker      string
	httpAddr    string
	heartbeat   time.Duration
	autostart   bool
	startDelay  time.Duration
	printConfig bool
	frequency   uint
	duration    uint
	delay       uint
	chip        string
	pinTENS     int
	pinAudio    int
}

// loadConfig parses args, loads the optional YAML file and lets flags that
// were set explicitly override it.
func loadConfig(args []string) (*config.Config, bool, error) {
	def := config.Default()
	fs := flag.NewFlagSet("neuromod", flag.ContinueOnError)
	v := &flagValues{}

	fs.StringVar(&v.configPath, "config", "", "YAML config file (optional)")
	fs.StringVar(&v.broker, "broker", def.MQTT.Broker, "MQTT broker address")
	fs.StringVar(&v.httpAddr, "http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	fs.DurationVar(&v.heartbeat, "heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.BoolVar(&v.autostart, "autostart", def.AutoStart, "Start a session after -start-delay")
	fs.DurationVar(&v.startDelay, "start-delay", def.StartDelay, "Delay before the automatic session start")
	fs.BoolVar(&v.printConfig, "print-config", false, "Print the effective configuration and exit")
	fs.UintVar(&v.frequency, "frequency", uint(def.Session.FrequencyHz), "Audio tone frequency in Hz")
	fs.UintVar(&v.duration, "duration", uint(def.Session.DurationMinutes), "Session duration in minutes (1-60)")
	fs.UintVar(&v.delay, "delay", uint(def.Session.TENSDelayMs), "Audio to TENS delay in ms")
	fs.StringVar(&v.chip, "chip", def.Hardware.Chip, "GPIO chip")
	fs.IntVar(&v.pinTENS, "pin-tens", def.Hardware.PinTENS, "BCM pin number for the TENS burst gate")
	fs.IntVar(&v.pinAudio, "pin-audio", def.Hardware.PinAudio, "BCM pin number for the audio enable line")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.Load(v.configPath)
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = v.broker
		case "http":
			cfg.HTTP.Addr = v.httpAddr
		case "heartbeat":
			cfg.Heartbeat = v.heartbeat
		case "autostart":
			cfg.AutoStart = v.autostart
		case "start-delay":
			cfg.StartDelay = v.startDelay
		case "frequency":
			cfg.Session.FrequencyHz = uint32(v.frequency)
		case "duration":
			cfg.Session.DurationMinutes = uint32(v.duration)
		case "delay":
			cfg.Session.TENSDelayMs = uint32(v.delay)
		case "chip":
			cfg.Hardware.Chip = v.chip
		case "pin-tens":
			cfg.Hardware.PinTENS = v.pinTENS
		case "pin-audio":
			cfg.Hardware.PinAudio = v.pinAudio
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, v.printConfig, nil
}

func run(cfg *config.Config) error {
	// Initialize GPIO
	tensLine, err := gpio.OpenOutput(cfg.Hardware.Chip, cfg.Hardware.PinTENS)
	if err != nil {
		return fmt.Errorf("init tens gpio: %w", err)
	}
	defer tensLine.Close()

	audioLine, err := gpio.OpenOutput(cfg.Hardware.Chip, cfg.Hardware.PinAudio)
	if err != nil {
		return fmt.Errorf("init audio gpio: %w", err)
	}
	defer audioLine.Close()

	audio := stim.NewGPIOAudio(audioLine)
	elec := stim.NewGPIOElectrical(tensLine)
	if err := audio.Init(); err != nil {
		return fmt.Errorf("init audio port: %w", err)
	}
	if err := elec.Init(); err != nil {
		return fmt.Errorf("init electrical port: %w", err)
	}
	if err := elec.SetIntensity(cfg.Session.TENSIntensity); err != nil {
		log.Printf("error: set tens intensity: %v", err)
	}

	events := make(chan session.Event, eventBuffer)
	sched := session.NewScheduler(session.Deps{
		Audio:      audio,
		Electrical: elec,
		Timers:     timer.NewReal(),
		Policy:     cfg.Policy(),
		Notify:     queueEvents(events),
	})
	cfg.Apply(sched)

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		Chip:          cfg.Hardware.Chip,
		PinTENS:       cfg.Hardware.PinTENS,
		PinAudio:      cfg.Hardware.PinAudio,
		TENSIntensity: elec.Intensity(),
		Policy:        sched.Policy().String(),
	})
	tracker.Update(sched.State(), sched.Config(), sched.Stats())
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("error: failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	hub := web.NewHub(tracker)
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, sched, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("error: http server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: broker=%s heartbeat=%v policy=%s autostart=%v",
		cfg.MQTT.Broker, cfg.Heartbeat, sched.Policy(), cfg.AutoStart)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var autostart <-chan time.Time
	if cfg.AutoStart {
		t := time.NewTimer(cfg.StartDelay)
		defer t.Stop()
		autostart = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		sched:      sched,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		hub:        hub,
		now:        time.Now,
		events:     events,
		heartbeat:  heartbeat,
		autostart:  autostart,
		sig:        sigCh,
	})
}

// queueEvents returns a scheduler Notify hook feeding ch. It never blocks:
// scheduler callbacks must not wait on runLoop.
func queueEvents(ch chan<- session.Event) func(session.Event) {
	return func(e session.Event) {
		select {
		case ch <- e:
		default:
			log.Printf("warn: event queue full, dropping %s", e.Type)
		}
	}
}

type loop struct {
	sched      *session.Scheduler
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	hub        *web.Hub
	now        func() time.Time

	events    <-chan session.Event
	heartbeat <-chan time.Time
	autostart <-chan time.Time
	sig       <-chan os.Signal
}

func runLoop(l loop) error {
	autostart := l.autostart

	for {
		select {
		case s := <-l.sig:
			log.Printf("received %v, shutting down", s)
			name := signalName(s)

			if l.sched.State() == session.StateRunning {
				l.sched.Stop()
			}
			l.drainEvents()

			event := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "SHUTDOWN",
				Reason:    name,
				Retained:  true,
			}
			if l.tracker != nil {
				l.refreshTracker()
				snap := l.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", name)
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				log.Printf("error: failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-autostart:
			autostart = nil
			log.Printf("autostart: starting session")
			l.sched.Start()

		case e := <-l.events:
			l.handleEvent(e)

		case t := <-l.heartbeat:
			stats := l.sched.Stats()
			log.Printf("heartbeat: state=%s sessions=%d pairs=%d port_failures=%d",
				l.sched.State(), stats.Sessions, stats.Pairs, stats.PortFailures)

			hbEvent := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "HEARTBEAT",
			}
			if l.tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				l.refreshTracker()
				snap := l.tracker.Snapshot()
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := l.publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("error: heartbeat publish: %v", err)
			}
			if l.hub != nil {
				l.hub.BroadcastSnapshot()
			}
		}
	}
}

func (l loop) handleEvent(e session.Event) {
	log.Printf("event: %s state=%s session=%s pairs=%d bursts=%d",
		e.Type, e.State, e.SessionID, e.Stats.Pairs, e.Stats.Bursts)

	if l.tracker != nil {
		l.tracker.Update(e.State, e.Config, e.Stats)
		if l.mqttStatus != nil {
			l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
		}
	}
	if err := l.publisher.Publish(e); err != nil {
		// Don't crash on publish failure
		log.Printf("error: publish: %v", err)
	}
	if l.hub != nil {
		l.hub.BroadcastEvent(e)
	}
}

// drainEvents handles every event already queued.
func (l loop) drainEvents() {
	for {
		select {
		case e := <-l.events:
			l.handleEvent(e)
		default:
			return
		}
	}
}

func (l loop) refreshTracker() {
	l.tracker.Update(l.sched.State(), l.sched.Config(), l.sched.Stats())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
