package sensor

import (
	"errors"
	"sync"
	"testing"
)

func TestFakeReaderRead(t *testing.T) {
	f := NewFakeReader(
		Reading{TemperatureC: 22, HumidityRH: 40},
		Reading{TemperatureC: 23, HumidityRH: 41},
	)

	r, err := f.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TemperatureC != 22 || r.HumidityRH != 40 {
		t.Errorf("sample 0: got %+v", r)
	}

	r, _ = f.Read()
	if r.TemperatureC != 23 {
		t.Errorf("sample 1: got %+v", r)
	}

	// Exhausted: last sample repeats.
	r, _ = f.Read()
	if r.TemperatureC != 23 {
		t.Errorf("sample 2 (repeat): got %+v", r)
	}
	if f.Reads() != 3 {
		t.Errorf("reads: got %d, want 3", f.Reads())
	}
}

func TestFakeReaderNoSamples(t *testing.T) {
	f := NewFakeReader()
	if _, err := f.Read(); err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeReaderError(t *testing.T) {
	f := NewFakeReader(Reading{TemperatureC: 22})
	f.SetError(errors.New("simulated error"))

	if _, err := f.Read(); err == nil || err.Error() != "simulated error" {
		t.Errorf("unexpected error: %v", err)
	}

	f.SetError(nil)
	if _, err := f.Read(); err != nil {
		t.Errorf("error should be cleared: %v", err)
	}
}

func TestFakeReaderSetTemperatureKeepsHumidity(t *testing.T) {
	f := NewFakeReader(Reading{TemperatureC: 22, HumidityRH: 35})
	f.SetTemperature(24.5)

	r, _ := f.Read()
	if r.TemperatureC != 24.5 || r.HumidityRH != 35 {
		t.Errorf("got %+v, want {24.5 35}", r)
	}
}

func TestFakeReaderConcurrentReads(t *testing.T) {
	f := NewFakeReader(Reading{TemperatureC: 22})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := f.Read(); err != nil {
					t.Errorf("read: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if f.Reads() != 800 {
		t.Errorf("reads: got %d, want 800", f.Reads())
	}
}

func TestFakeReaderClose(t *testing.T) {
	f := NewFakeReader(Reading{})
	if f.Closed() {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed() {
		t.Error("should be closed after Close()")
	}
}
