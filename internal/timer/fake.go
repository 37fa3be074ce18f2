package timer

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Fake is a timer service driven by virtual time. Nothing fires until
// Advance is called; callbacks run synchronously on the caller's goroutine
// in deadline order (ties broken by arm order).
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer

	// Arms records every successful ArmOnce call in order.
	Arms []Arm

	// Cancels records the timer name of every Cancel call in order.
	Cancels []string

	// CreateError, if set, is returned by Create.
	CreateError error

	// CancelError, if set, is returned by Cancel (the timer is still disarmed).
	CancelError error

	// ArmError, if set, is returned by ArmOnce and the timer is left unchanged.
	ArmError error
}

// Arm is a recorded ArmOnce call.
type Arm struct {
	Name  string
	Delay time.Duration
	At    time.Time
}

// NewFake creates a Fake whose virtual clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Create returns an idle fake timer bound to fn.
func (f *Fake) Create(name string, fn func()) (Timer, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateError != nil {
		return nil, f.CreateError
	}
	ft := &fakeTimer{f: f, name: name, fn: fn}
	f.timers = append(f.timers, ft)
	return ft, nil
}

// Advance moves virtual time forward by d, firing every timer whose
// deadline falls within the window. Timers armed by a callback fire in the
// same call if their deadline is still within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.deadline
		next.armed = false
		next.fired = true
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// nextDue returns the armed timer with the earliest deadline <= target.
// Caller must hold f.mu.
func (f *Fake) nextDue(target time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range f.timers {
		if !t.armed || t.deadline.After(target) {
			continue
		}
		if best == nil || t.deadline.Before(best.deadline) ||
			(t.deadline.Equal(best.deadline) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Armed returns the sorted names of timers that are currently armed.
func (f *Fake) Armed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for _, t := range f.timers {
		if t.armed {
			names = append(names, t.name)
		}
	}
	sort.Strings(names)
	return names
}

// IsArmed reports whether the named timer is armed.
func (f *Fake) IsArmed(name string) bool {
	_, ok := f.Deadline(name)
	return ok
}

// Deadline returns the deadline of the named timer if it is armed.
func (f *Fake) Deadline(name string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.timers {
		if t.name == name && t.armed {
			return t.deadline, true
		}
	}
	return time.Time{}, false
}

// ArmCount returns how many times the named timer was armed.
func (f *Fake) ArmCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, a := range f.Arms {
		if a.Name == name {
			n++
		}
	}
	return n
}

// Created returns the number of timers created so far.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Fire runs the named timer's callback immediately, whether or not it is
// armed, and leaves any pending deadline in place. It simulates a callback
// that was dispatched before a cancel or re-arm landed, so the callback's
// Claim returns false.
func (f *Fake) Fire(name string) error {
	f.mu.Lock()
	var fn func()
	for _, t := range f.timers {
		if t.name == name {
			fn = t.fn
			break
		}
	}
	f.mu.Unlock()

	if fn == nil {
		return errors.New("timer: no timer named " + name)
	}
	fn()
	return nil
}

type fakeTimer struct {
	f        *Fake
	name     string
	fn       func()
	armed    bool
	fired    bool
	deadline time.Time
	seq      uint64
}

func (t *fakeTimer) ArmOnce(d time.Duration) error {
	if d < 0 {
		return ErrNegativeDelay
	}

	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ArmError != nil {
		return f.ArmError
	}
	f.seq++
	t.seq = f.seq
	t.armed = true
	t.fired = false
	t.deadline = f.now.Add(d)
	f.Arms = append(f.Arms, Arm{Name: t.name, Delay: d, At: f.now})
	return nil
}

func (t *fakeTimer) Cancel() error {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()

	t.armed = false
	t.fired = false
	f.Cancels = append(f.Cancels, t.name)
	return f.CancelError
}

func (t *fakeTimer) Claim() bool {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := t.fired
	t.fired = false
	return ok
}
