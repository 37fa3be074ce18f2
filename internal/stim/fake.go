package stim

import (
	"sync"
	"time"
)

// Call is a single recorded port operation.
type Call struct {
	Port string
	Op   string
	Arg  uint32
	At   time.Time
}

// Recorder is a shared, ordered log of port calls. Sharing one Recorder
// between a FakeAudio and a FakeElectrical lets tests assert the relative
// order and spacing of audio and electrical calls.
type Recorder struct {
	mu    sync.Mutex
	now   func() time.Time
	calls []Call
}

// NewRecorder creates a Recorder stamping calls with now (time.Now if nil).
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

func (r *Recorder) record(port, op string, arg uint32) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Port: port, Op: op, Arg: arg, At: r.now()})
	r.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns "port.op" strings for every recorded call.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Port + "." + c.Op
	}
	return out
}

// Count returns how many times port.op was called.
func (r *Recorder) Count(port, op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Port == port && c.Op == op {
			n++
		}
	}
	return n
}

// Len returns the number of recorded calls.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset clears recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// FakeAudio is a test double for AudioPort.
type FakeAudio struct {
	rec *Recorder

	mu        sync.Mutex
	frequency uint32
	playing   bool

	// InitError, SetFrequencyError, StartError and StopError, if set, are
	// returned by the matching call. The call is still recorded.
	InitError         error
	SetFrequencyError error
	StartError        error
	StopError         error
}

// NewFakeAudio creates a FakeAudio recording into rec.
func NewFakeAudio(rec *Recorder) *FakeAudio {
	return &FakeAudio{rec: rec}
}

func (f *FakeAudio) Init() error {
	f.rec.record(PortAudio, "init", 0)
	return f.fail("init", f.InitError)
}

func (f *FakeAudio) SetFrequency(hz uint32) error {
	f.rec.record(PortAudio, "set_frequency", hz)
	if err := f.fail("set_frequency", f.SetFrequencyError); err != nil {
		return err
	}
	f.mu.Lock()
	f.frequency = hz
	f.mu.Unlock()
	return nil
}

func (f *FakeAudio) Start() error {
	f.rec.record(PortAudio, "start", 0)
	if err := f.fail("start", f.StartError); err != nil {
		return err
	}
	f.mu.Lock()
	f.playing = true
	f.mu.Unlock()
	return nil
}

func (f *FakeAudio) Stop() error {
	f.rec.record(PortAudio, "stop", 0)
	if err := f.fail("stop", f.StopError); err != nil {
		return err
	}
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	return nil
}

// Frequency returns the last frequency accepted by SetFrequency.
func (f *FakeAudio) Frequency() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frequency
}

// Playing reports whether Start succeeded more recently than Stop.
func (f *FakeAudio) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *FakeAudio) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PortError{Port: PortAudio, Op: op, Err: err}
}

// FakeElectrical is a test double for ElectricalPort.
type FakeElectrical struct {
	rec *Recorder

	mu        sync.Mutex
	intensity uint8
	bursting  bool

	// InitError, StartBurstError, StopBurstError and SetIntensityError, if
	// set, are returned by the matching call. The call is still recorded.
	InitError         error
	StartBurstError   error
	StopBurstError    error
	SetIntensityError error
}

// NewFakeElectrical creates a FakeElectrical recording into rec.
func NewFakeElectrical(rec *Recorder) *FakeElectrical {
	return &FakeElectrical{rec: rec}
}

func (f *FakeElectrical) Init() error {
	f.rec.record(PortElectrical, "init", 0)
	return f.fail("init", f.InitError)
}

func (f *FakeElectrical) StartBurst() error {
	f.rec.record(PortElectrical, "start_burst", 0)
	if err := f.fail("start_burst", f.StartBurstError); err != nil {
		return err
	}
	f.mu.Lock()
	f.bursting = true
	f.mu.Unlock()
	return nil
}

func (f *FakeElectrical) StopBurst() error {
	f.rec.record(PortElectrical, "stop_burst", 0)
	if err := f.fail("stop_burst", f.StopBurstError); err != nil {
		return err
	}
	f.mu.Lock()
	f.bursting = false
	f.mu.Unlock()
	return nil
}

func (f *FakeElectrical) SetIntensity(level uint8) error {
	f.rec.record(PortElectrical, "set_intensity", uint32(level))
	if err := f.fail("set_intensity", f.SetIntensityError); err != nil {
		return err
	}
	f.mu.Lock()
	f.intensity = ClampIntensity(level)
	f.mu.Unlock()
	return nil
}

// Intensity returns the last (clamped) intensity accepted.
func (f *FakeElectrical) Intensity() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intensity
}

// Bursting reports whether StartBurst succeeded more recently than StopBurst.
func (f *FakeElectrical) Bursting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bursting
}

func (f *FakeElectrical) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PortError{Port: PortElectrical, Op: op, Err: err}
}
