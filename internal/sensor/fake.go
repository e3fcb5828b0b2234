package sensor

import (
	"errors"
	"sync"
)

// FakeReader is a test double that returns scripted readings.
// Safe for concurrent use.
type FakeReader struct {
	mu sync.Mutex

	// samples contains scripted readings. Each Read consumes the next one;
	// once exhausted the last sample repeats.
	samples []Reading
	index   int

	readErr error
	reads   int
	closed  bool
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...Reading) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.readErr != nil {
		return Reading{}, f.readErr
	}
	if len(f.samples) == 0 {
		return Reading{}, errors.New("no samples configured")
	}

	r := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return r, nil
}

// Set replaces the script with a single repeating reading.
func (f *FakeReader) Set(r Reading) {
	f.mu.Lock()
	f.samples = []Reading{r}
	f.index = 0
	f.mu.Unlock()
}

// SetTemperature replaces the script with a single repeating temperature,
// keeping the current humidity.
func (f *FakeReader) SetTemperature(c float64) {
	f.mu.Lock()
	rh := 0.0
	if len(f.samples) > 0 {
		rh = f.samples[f.index].HumidityRH
	}
	f.samples = []Reading{{TemperatureC: c, HumidityRH: rh}}
	f.index = 0
	f.mu.Unlock()
}

// SetError makes every Read fail with err (nil clears it).
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

// Reads returns the number of Read calls so far.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
