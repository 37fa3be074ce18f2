package stim

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/neuromod/internal/gpio"
)

var errNotInitialized = errors.New("port not initialized")

// GPIOAudio gates an external tone generator through an enable line.
// The generator is programmed with the stored frequency when it is enabled.
type GPIOAudio struct {
	mu     sync.Mutex
	enable gpio.Output
	freq   uint32
	ready  bool
}

// NewGPIOAudio creates an audio port driving the given enable line.
func NewGPIOAudio(enable gpio.Output) *GPIOAudio {
	return &GPIOAudio{enable: enable}
}

// Init drives the enable line inactive and marks the port ready.
func (a *GPIOAudio) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.enable.Set(false); err != nil {
		return &PortError{Port: PortAudio, Op: "init", Err: err}
	}
	a.ready = true
	log.Printf("stim: audio port initialized")
	return nil
}

// SetFrequency stores hz after checking it against the generator's range.
func (a *GPIOAudio) SetFrequency(hz uint32) error {
	if hz < MinFrequencyHz || hz > MaxFrequencyHz {
		return &PortError{Port: PortAudio, Op: "set_frequency",
			Err: fmt.Errorf("%d Hz outside %d-%d Hz", hz, MinFrequencyHz, MaxFrequencyHz)}
	}

	a.mu.Lock()
	a.freq = hz
	a.mu.Unlock()
	log.Printf("stim: audio frequency set to %d Hz", hz)
	return nil
}

// Frequency returns the stored tone frequency.
func (a *GPIOAudio) Frequency() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freq
}

// Start enables the tone generator.
func (a *GPIOAudio) Start() error {
	return a.drive("start", true)
}

// Stop disables the tone generator.
func (a *GPIOAudio) Stop() error {
	return a.drive("stop", false)
}

func (a *GPIOAudio) drive(op string, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.ready {
		return &PortError{Port: PortAudio, Op: op, Err: errNotInitialized}
	}
	if err := a.enable.Set(on); err != nil {
		return &PortError{Port: PortAudio, Op: op, Err: err}
	}
	return nil
}

// GPIOElectrical gates a constant-current TENS driver through a burst line.
// Raising the line starts a burst whose pulse train is timed by the driver.
// The driver's output current is set on its front panel; the line carries
// no amplitude, so the stored intensity is informational only.
type GPIOElectrical struct {
	mu        sync.Mutex
	gate      gpio.Output
	intensity uint8
	ready     bool
}

// NewGPIOElectrical creates an electrical port driving the given gate line.
func NewGPIOElectrical(gate gpio.Output) *GPIOElectrical {
	return &GPIOElectrical{gate: gate, intensity: DefaultIntensity}
}

// Init drives the gate inactive and marks the port ready.
func (e *GPIOElectrical) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.gate.Set(false); err != nil {
		return &PortError{Port: PortElectrical, Op: "init", Err: err}
	}
	e.ready = true
	log.Printf("stim: tens port initialized")
	return nil
}

// StartBurst raises the burst gate.
func (e *GPIOElectrical) StartBurst() error {
	return e.drive("start_burst", true)
}

// StopBurst lowers the burst gate. It works before Init so a fault can
// always de-energize the output.
func (e *GPIOElectrical) StopBurst() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.gate.Set(false); err != nil {
		return &PortError{Port: PortElectrical, Op: "stop_burst", Err: err}
	}
	return nil
}

// SetIntensity records level, clamped to MaxIntensity, for status reporting.
// It does not touch the gate line or change a burst.
func (e *GPIOElectrical) SetIntensity(level uint8) error {
	clamped := ClampIntensity(level)

	e.mu.Lock()
	e.intensity = clamped
	e.mu.Unlock()

	if clamped != level {
		log.Printf("stim: tens intensity %d clamped to %d (informational, set on driver panel)", level, clamped)
	} else {
		log.Printf("stim: tens intensity recorded as %d (informational, set on driver panel)", clamped)
	}
	return nil
}

// Intensity returns the recorded intensity level.
func (e *GPIOElectrical) Intensity() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intensity
}

func (e *GPIOElectrical) drive(op string, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return &PortError{Port: PortElectrical, Op: op, Err: errNotInitialized}
	}
	if err := e.gate.Set(on); err != nil {
		return &PortError{Port: PortElectrical, Op: op, Err: err}
	}
	return nil
}
