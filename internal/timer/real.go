package timer

import (
	"sync"
	"time"
)

// Real creates timers backed by time.AfterFunc. Callbacks run on their own
// goroutine, so callers must synchronize any state the callback touches.
type Real struct{}

// NewReal creates a Real timer service.
func NewReal() *Real {
	return &Real{}
}

// Create returns an idle timer bound to fn.
func (Real) Create(name string, fn func()) (Timer, error) {
	if fn == nil {
		return nil, ErrNilCallback
	}
	return &realTimer{name: name, fn: fn}, nil
}

type realTimer struct {
	mu   sync.Mutex
	name string
	fn   func()
	t    *time.Timer
	// gen is bumped on every arm and cancel so a stale AfterFunc that lost
	// the race with Stop does not run the callback.
	gen uint64
	// fired is the generation of the last firing not yet claimed, 0 if none.
	fired uint64
}

func (r *realTimer) ArmOnce(d time.Duration) error {
	if d < 0 {
		return ErrNegativeDelay
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.t != nil {
		r.t.Stop()
	}
	r.gen++
	gen := r.gen
	r.t = time.AfterFunc(d, func() { r.fire(gen) })
	return nil
}

func (r *realTimer) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	if r.t != nil {
		r.t.Stop()
		r.t = nil
	}
	return nil
}

func (r *realTimer) fire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.t = nil
	r.fired = gen
	r.mu.Unlock()

	r.fn()
}

func (r *realTimer) Claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok := r.fired != 0 && r.fired == r.gen
	r.fired = 0
	return ok
}
