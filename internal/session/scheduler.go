package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/neuromod/internal/stim"
	"github.com/sweeney/neuromod/internal/timer"
)

// Deps are the collaborators a Scheduler drives.
type Deps struct {
	Audio      stim.AudioPort
	Electrical stim.ElectricalPort
	Timers     timer.Service

	// Now defaults to time.Now.
	Now func() time.Time

	// Policy defaults to LogAndContinue.
	Policy FailurePolicy

	// Notify, if set, receives every lifecycle event. It is called after the
	// scheduler lock is released, in emission order per entry point.
	Notify func(Event)

	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Scheduler owns the session state machine and the three session timers.
// All entry points and timer callbacks are serialized by one mutex.
type Scheduler struct {
	audio  stim.AudioPort
	elec   stim.ElectricalPort
	timers timer.Service
	now    func() time.Time
	policy FailurePolicy
	notify func(Event)
	newID  func() string

	mu         sync.Mutex
	state      State
	cfg        Config
	stats      Stats
	pairTimer  timer.Timer
	delayTimer timer.Timer
	endTimer   timer.Timer
	pending    []Event

	// audioOK records whether the current pair's audio start succeeded.
	audioOK bool
}

// NewScheduler creates an idle scheduler with DefaultConfig.
func NewScheduler(deps Deps) *Scheduler {
	s := &Scheduler{
		audio:  deps.Audio,
		elec:   deps.Electrical,
		timers: deps.Timers,
		now:    deps.Now,
		policy: deps.Policy,
		notify: deps.Notify,
		newID:  deps.NewID,
		state:  StateIdle,
		cfg:    DefaultConfig(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.policy == nil {
		s.policy = LogAndContinue{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// SetAudioFrequency stores hz. Range checks belong to the audio port.
func (s *Scheduler) SetAudioFrequency(hz uint32) {
	s.mu.Lock()
	defer s.unlockAndNotify()

	s.cfg.AudioFrequencyHz = hz
	log.Printf("session: audio frequency set to %d Hz", hz)
	s.queue(EventConfigChanged, "audio_frequency")
}

// SetSessionDuration stores minutes*60 seconds after clamping minutes to
// [MinDurationMinutes, MaxDurationMinutes]. A running session keeps the
// end time it was started with.
func (s *Scheduler) SetSessionDuration(minutes uint32) {
	s.mu.Lock()
	defer s.unlockAndNotify()

	m := ClampDurationMinutes(minutes)
	if m != minutes {
		log.Printf("session: duration %d min clamped to %d min", minutes, m)
	}
	s.cfg.SessionDuration = time.Duration(m) * time.Minute
	log.Printf("session: duration set to %d min", m)
	s.queue(EventConfigChanged, "session_duration")
}

// SetTENSDelay stores the inter-stimulus delay. Values outside the clinical
// window are accepted with a warning.
func (s *Scheduler) SetTENSDelay(ms uint32) {
	s.mu.Lock()
	defer s.unlockAndNotify()

	d := time.Duration(ms) * time.Millisecond
	s.cfg.StimulusDelay = d
	if d <= 0 || d >= ClinicalDelayMax {
		log.Printf("warn: session: tens delay %d ms outside clinical window (0, %d) ms", ms, ClinicalDelayMax.Milliseconds())
	}
	log.Printf("session: tens delay set to %d ms", ms)
	s.queue(EventConfigChanged, "tens_delay")
}

// Start moves IDLE to RUNNING: the first pair fires immediately and the
// session end is armed after the configured duration. It is a no-op when
// already running and refused in FAULT.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.unlockAndNotify()

	switch s.state {
	case StateRunning:
		log.Printf("warn: session: already running")
		return
	case StateFault:
		log.Printf("error: session: start refused, scheduler in fault state")
		return
	}

	if err := s.createTimers(); err != nil {
		log.Printf("error: session: create timers: %v", err)
		return
	}

	s.state = StateRunning
	s.stats.SessionID = s.newID()
	s.stats.SessionStart = s.now()
	s.stats.Pairs = 0
	s.stats.Bursts = 0
	s.stats.ConsecutiveFailures = 0
	s.stats.Sessions++
	s.audioOK = false

	log.Printf("session: starting %s (duration %d s, delay %d ms, frequency %d Hz)",
		s.stats.SessionID, s.cfg.DurationSeconds(), s.cfg.DelayMs(), s.cfg.AudioFrequencyHz)
	s.queue(EventSessionStarted, "")

	s.checkPort(stim.PortAudio, "set_frequency", s.audio.SetFrequency(s.cfg.AudioFrequencyHz))
	if s.state != StateRunning {
		return
	}

	s.arm(s.pairTimer, TimerPairTrigger, 0)
	s.arm(s.endTimer, TimerSessionEnd, s.cfg.SessionDuration)
}

// Stop returns RUNNING to IDLE, cancelling every pending timer and
// commanding both outputs off. It is a no-op when idle and refused in FAULT.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.unlockAndNotify()

	switch s.state {
	case StateIdle:
		log.Printf("warn: session: not running")
		return
	case StateFault:
		log.Printf("error: session: stop ignored, scheduler in fault state")
		return
	}

	s.halt()
	s.state = StateIdle
	log.Printf("session: stopped %s after %d pairs", s.stats.SessionID, s.stats.Pairs)
	s.queue(EventSessionStopped, "")
}

// Fault forces the terminal FAULT state from any state. It cancels every
// timer and commands both outputs off; failures are logged, not retried.
func (s *Scheduler) Fault(reason string) {
	s.mu.Lock()
	defer s.unlockAndNotify()

	s.enterFault(reason)
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the current configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Stats returns a copy of the activity counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Policy returns the failure policy in effect.
func (s *Scheduler) Policy() FailurePolicy {
	return s.policy
}

func (s *Scheduler) onPairTrigger() {
	s.mu.Lock()
	defer s.unlockAndNotify()

	if !s.pairTimer.Claim() || s.state != StateRunning {
		return
	}

	s.stats.Pairs++
	err := s.audio.Start()
	s.audioOK = err == nil
	s.checkPort(stim.PortAudio, "start", err)
	if s.state != StateRunning {
		return
	}

	s.arm(s.delayTimer, TimerStimulusDelay, s.cfg.StimulusDelay)
	s.arm(s.pairTimer, TimerPairTrigger, PairPeriod)
}

func (s *Scheduler) onStimulusDelay() {
	s.mu.Lock()
	defer s.unlockAndNotify()

	if !s.delayTimer.Claim() || s.state != StateRunning {
		return
	}

	startErr := s.elec.StartBurst()
	stopErr := s.elec.StopBurst()
	if startErr == nil {
		s.stats.Bursts++
	}
	if s.audioOK && startErr == nil && stopErr == nil {
		s.stats.ConsecutiveFailures = 0
	}

	s.checkPort(stim.PortElectrical, "start_burst", startErr)
	if s.state != StateRunning {
		return
	}
	s.checkPort(stim.PortElectrical, "stop_burst", stopErr)
}

func (s *Scheduler) onSessionEnd() {
	s.mu.Lock()
	defer s.unlockAndNotify()

	if !s.endTimer.Claim() || s.state != StateRunning {
		return
	}

	log.Printf("session: duration reached, stopping session %s", s.stats.SessionID)
	s.halt()
	s.state = StateIdle
	log.Printf("session: completed %s (%d pairs, %d bursts)", s.stats.SessionID, s.stats.Pairs, s.stats.Bursts)
	s.queue(EventSessionCompleted, "")
}

// createTimers creates any timer that does not exist yet. Caller must hold s.mu.
func (s *Scheduler) createTimers() error {
	wanted := []struct {
		t    *timer.Timer
		name string
		fn   func()
	}{
		{&s.pairTimer, TimerPairTrigger, s.onPairTrigger},
		{&s.delayTimer, TimerStimulusDelay, s.onStimulusDelay},
		{&s.endTimer, TimerSessionEnd, s.onSessionEnd},
	}
	for _, w := range wanted {
		if *w.t != nil {
			continue
		}
		t, err := s.timers.Create(w.name, w.fn)
		if err != nil {
			return fmt.Errorf("create %s: %w", w.name, err)
		}
		*w.t = t
	}
	return nil
}

// arm logs arm failures; the session carries on. Caller must hold s.mu.
func (s *Scheduler) arm(t timer.Timer, name string, d time.Duration) {
	if err := t.ArmOnce(d); err != nil {
		log.Printf("error: session: arm %s: %v", name, err)
	}
}

// halt cancels all timers and commands outputs off. Caller must hold s.mu.
func (s *Scheduler) halt() {
	s.cancelTimers()
	s.outputsOff()
}

func (s *Scheduler) cancelTimers() {
	timers := []struct {
		t    timer.Timer
		name string
	}{
		{s.pairTimer, TimerPairTrigger},
		{s.delayTimer, TimerStimulusDelay},
		{s.endTimer, TimerSessionEnd},
	}
	for _, tm := range timers {
		if tm.t == nil {
			continue
		}
		if err := tm.t.Cancel(); err != nil {
			log.Printf("error: session: cancel %s: %v", tm.name, err)
		}
	}
}

func (s *Scheduler) outputsOff() {
	if err := s.elec.StopBurst(); err != nil {
		log.Printf("error: session: tens output off: %v", err)
	}
	if err := s.audio.Stop(); err != nil {
		log.Printf("error: session: audio output off: %v", err)
	}
}

// enterFault is the guarded safe-state path. Caller must hold s.mu.
func (s *Scheduler) enterFault(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	log.Printf("error: session: FAULT detected (%s), entering safe state", reason)

	s.state = StateFault
	s.stats.FaultReason = reason
	s.halt()

	log.Printf("error: session: system in safe state, manual reset required")
	s.queue(EventFault, reason)
}

// checkPort counts a failed port call and applies the failure policy.
// Successes leave the consecutive count alone: only a pair whose audio start,
// start_burst and stop_burst all succeed resets it. Caller must hold s.mu.
func (s *Scheduler) checkPort(port, op string, err error) {
	if err == nil {
		return
	}

	s.stats.PortFailures++
	s.stats.ConsecutiveFailures++
	var pe *stim.PortError
	if !errors.As(err, &pe) {
		err = &stim.PortError{Port: port, Op: op, Err: err}
	}
	log.Printf("error: session: %v (consecutive failures: %d)", err, s.stats.ConsecutiveFailures)
	s.queue(EventPortFailure, err.Error())

	if s.policy.ShouldFault(s.stats.ConsecutiveFailures) {
		s.enterFault(fmt.Sprintf("%d consecutive port failures, last: %v", s.stats.ConsecutiveFailures, err))
	}
}

// queue records an event for delivery once the lock is released.
// Caller must hold s.mu.
func (s *Scheduler) queue(t EventType, reason string) {
	if s.notify == nil {
		return
	}
	s.pending = append(s.pending, Event{
		Timestamp: s.now(),
		Type:      t,
		State:     s.state,
		SessionID: s.stats.SessionID,
		Reason:    reason,
		Config:    s.cfg,
		Stats:     s.stats,
	})
}

func (s *Scheduler) unlockAndNotify() {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, e := range events {
		s.notify(e)
	}
}
