package interlock

import "sync"

// FakeLine records relay commands for test assertions. Safe for concurrent use.
type FakeLine struct {
	mu sync.Mutex

	engaged bool
	history []bool
	setErr  error
	closed  bool
}

// NewFakeLine creates a released FakeLine.
func NewFakeLine() *FakeLine {
	return &FakeLine{}
}

// Set records the command.
func (f *FakeLine) Set(engaged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.engaged = engaged
	f.history = append(f.history, engaged)
	return nil
}

// Close releases the relay and marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engaged = false
	f.closed = true
	return nil
}

// SetError makes every Set fail with err (nil clears it).
func (f *FakeLine) SetError(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

// Engaged reports the current relay state.
func (f *FakeLine) Engaged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engaged
}

// History returns every command in order.
func (f *FakeLine) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

// Closed reports whether Close was called.
func (f *FakeLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
