package gpio

import "sync"

// FakeOutput is a test double that records every value driven onto the line.
type FakeOutput struct {
	mu sync.Mutex

	// Values contains every value passed to Set, in order.
	Values []bool

	// Closed tracks if Close was called.
	Closed bool

	// SetError, if set, will be returned by Set (the value is not recorded).
	SetError error
}

// NewFakeOutput creates a FakeOutput with the line inactive.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the value.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, on)
	return nil
}

// Close drives the line inactive and marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Values = append(f.Values, false)
	f.Closed = true
	return nil
}

// Level returns the last value driven onto the line (false if never set).
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Values) == 0 {
		return false
	}
	return f.Values[len(f.Values)-1]
}

// Reset clears recorded values.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Values = nil
	f.Closed = false
	f.SetError = nil
}
