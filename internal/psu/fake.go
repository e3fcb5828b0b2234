package psu

import (
	"sync"
	"time"
)

// Operation names used by FakeSupply for failure injection and the write log.
const (
	OpSetVoltage      = "SetVoltage"
	OpVoltage         = "Voltage"
	OpSetCurrent      = "SetCurrent"
	OpCurrent         = "Current"
	OpMeasuredVoltage = "MeasuredVoltage"
	OpMeasuredCurrent = "MeasuredCurrent"
	OpSetOutput       = "SetOutput"
	OpOutput          = "Output"
)

// Write records one setpoint or output command.
type Write struct {
	Op    string
	Value float64 // 1/0 for SetOutput
}

// FakeSupply is an in-memory supply that records writes for test assertions.
// Safe for concurrent use. Measured values follow the setpoints while the
// output is on and read zero while it is off.
type FakeSupply struct {
	mu sync.Mutex

	voltage float64
	current float64
	output  bool

	writes   []Write
	failures map[string]error
	closed   bool

	// WriteDelay widens the window in which overlapping writes would be seen.
	WriteDelay time.Duration

	inFlight   int
	overlapped bool
}

// NewFakeSupply creates a supply with the output off.
func NewFakeSupply() *FakeSupply {
	return &FakeSupply{failures: make(map[string]error)}
}

func (f *FakeSupply) SetVoltage(v float64) error {
	return f.write(OpSetVoltage, v, func() { f.voltage = v })
}

func (f *FakeSupply) Voltage() (float64, error) {
	return f.read(OpVoltage, func() float64 { return f.voltage })
}

func (f *FakeSupply) SetCurrent(a float64) error {
	return f.write(OpSetCurrent, a, func() { f.current = a })
}

func (f *FakeSupply) Current() (float64, error) {
	return f.read(OpCurrent, func() float64 { return f.current })
}

func (f *FakeSupply) MeasuredVoltage() (float64, error) {
	return f.read(OpMeasuredVoltage, func() float64 {
		if !f.output {
			return 0
		}
		return f.voltage
	})
}

func (f *FakeSupply) MeasuredCurrent() (float64, error) {
	return f.read(OpMeasuredCurrent, func() float64 {
		if !f.output {
			return 0
		}
		return f.current
	})
}

func (f *FakeSupply) SetOutput(on bool) error {
	v := 0.0
	if on {
		v = 1
	}
	return f.write(OpSetOutput, v, func() { f.output = on })
}

func (f *FakeSupply) Output() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[OpOutput]; err != nil {
		return false, err
	}
	return f.output, nil
}

// Close marks the supply as closed.
func (f *FakeSupply) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Fail makes op return err until cleared with Fail(op, nil).
func (f *FakeSupply) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// SwitchOff turns the output off as if from the front panel. Not recorded.
func (f *FakeSupply) SwitchOff() {
	f.mu.Lock()
	f.output = false
	f.mu.Unlock()
}

// IsOn returns the output state without failure injection.
func (f *FakeSupply) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output
}

// SetpointCurrent returns the current setpoint without failure injection.
func (f *FakeSupply) SetpointCurrent() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Writes returns a copy of the write log.
func (f *FakeSupply) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// CountWrites returns how many writes of op were recorded.
func (f *FakeSupply) CountWrites(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.writes {
		if w.Op == op {
			n++
		}
	}
	return n
}

// Overlapped reports whether two writes were ever in flight at once.
func (f *FakeSupply) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlapped
}

// Closed reports whether Close was called.
func (f *FakeSupply) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeSupply) write(op string, v float64, apply func()) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlapped = true
	}
	delay := f.WriteDelay
	f.mu.Unlock()

	// The delay runs outside f.mu so an unsynchronized second writer would
	// be caught in flight.
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if err := f.failures[op]; err != nil {
		return err
	}
	apply()
	f.writes = append(f.writes, Write{Op: op, Value: v})
	return nil
}

func (f *FakeSupply) read(op string, get func() float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[op]; err != nil {
		return 0, err
	}
	return get(), nil
}
