package control

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
)

func TestNewInitialState(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.c.Status(); got != logic.StateOff {
		t.Errorf("status: got %s, want OFF", got)
	}
	if h.c.Setpoint() != 22 || h.c.LowLimit() != -25 || h.c.HighLimit() != 25 {
		t.Errorf("defaults: got %v/%v/%v", h.c.Setpoint(), h.c.LowLimit(), h.c.HighLimit())
	}
	if len(h.psu.Writes()) != 0 {
		t.Errorf("construction must not touch the supply, got %v", h.psu.Writes())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted limits", func(c *Config) { c.Low, c.High = 25, -25 }},
		{"equal limits", func(c *Config) { c.Low, c.High, c.Setpoint = 10, 10, 10 }},
		{"setpoint above high", func(c *Config) { c.Setpoint = 30 }},
		{"setpoint below low", func(c *Config) { c.Setpoint = -30 }},
		{"NaN setpoint", func(c *Config) { c.Setpoint = math.NaN() }},
		{"zero current max", func(c *Config) { c.CurrentMax = 0 }},
		{"zero voltage", func(c *Config) { c.SupplyVoltage = 0 }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, Deps{Sensor: sensor.NewFakeReader(), Supply: psu.NewFakeSupply()})
			if errcode.Of(err) != errcode.Validation {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestNewRequiresHardware(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{Supply: psu.NewFakeSupply()})
	if errcode.Of(err) != errcode.Validation {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestSetSetpoint(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		ok    bool
	}{
		{"inside", 10, true},
		{"at high", 25, true},
		{"at low", -25, true},
		{"above high", 25.01, false},
		{"below low", -25.01, false},
		{"NaN", math.NaN(), false},
		{"+Inf", math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			err := h.c.SetSetpoint(tt.value)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if h.c.Setpoint() != tt.value {
					t.Errorf("setpoint: got %v, want %v", h.c.Setpoint(), tt.value)
				}
				return
			}
			if !errors.Is(err, errcode.Validation) {
				t.Fatalf("got %v, want validation error", err)
			}
			if h.c.Setpoint() != 22 {
				t.Errorf("rejected value must not change state, setpoint=%v", h.c.Setpoint())
			}
		})
	}
}

func TestSetLimits(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Controller) error
		ok    bool
	}{
		{"low raised", func(c *Controller) error { return c.SetLowLimit(20) }, true},
		{"low up to setpoint", func(c *Controller) error { return c.SetLowLimit(22) }, true},
		{"low excludes setpoint", func(c *Controller) error { return c.SetLowLimit(23) }, false},
		{"low at high", func(c *Controller) error { return c.SetLowLimit(25) }, false},
		{"low NaN", func(c *Controller) error { return c.SetLowLimit(math.NaN()) }, false},
		{"high lowered", func(c *Controller) error { return c.SetHighLimit(23) }, true},
		{"high down to setpoint", func(c *Controller) error { return c.SetHighLimit(22) }, true},
		{"high excludes setpoint", func(c *Controller) error { return c.SetHighLimit(21) }, false},
		{"high at low", func(c *Controller) error { return c.SetHighLimit(-25) }, false},
		{"high -Inf", func(c *Controller) error { return c.SetHighLimit(math.Inf(-1)) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			err := tt.apply(h.c)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && errcode.Of(err) != errcode.Validation {
				t.Fatalf("got %v, want validation error", err)
			}
			low, high, sp := h.c.LowLimit(), h.c.HighLimit(), h.c.Setpoint()
			if !(low < high) || sp < low || sp > high {
				t.Errorf("invariant broken: low=%v setpoint=%v high=%v", low, sp, high)
			}
		})
	}
}

func TestSettersPersist(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.c.SetSetpoint(18); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	if err := h.c.SetHighLimit(20); err != nil {
		t.Fatalf("SetHighLimit: %v", err)
	}
	h.c.SetLowLimit(100) // rejected, not saved

	last, n := h.saver.last()
	if n != 2 {
		t.Fatalf("saves: got %d, want 2", n)
	}
	if last.Setpoint != 18 || last.Low != -25 || last.High != 20 {
		t.Errorf("saved: got %+v", last)
	}
}

func TestConcurrentSettersKeepInvariant(t *testing.T) {
	h := newHarness(t, nil)
	rng := rand.New(rand.NewSource(1))

	values := make([][3]float64, 8)
	for i := range values {
		values[i] = [3]float64{rng.Float64()*60 - 30, rng.Float64()*60 - 30, rng.Float64()*60 - 30}
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := make(chan string, 1)

	// Observer: every snapshot must satisfy the invariant.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := h.c.Summary()
			if !(s.Low < s.High) || s.Setpoint < s.Low || s.Setpoint > s.High {
				select {
				case violations <- "torn state":
				default:
				}
			}
		}
	}()

	var writers sync.WaitGroup
	for _, v := range values {
		writers.Add(1)
		go func(v [3]float64) {
			defer writers.Done()
			for i := 0; i < 50; i++ {
				h.c.SetSetpoint(v[0])
				h.c.SetLowLimit(math.Min(v[1], v[2]))
				h.c.SetHighLimit(math.Max(v[1], v[2]))
			}
		}(v)
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	select {
	case msg := <-violations:
		t.Fatal(msg)
	default:
	}

	last, n := h.saver.last()
	if n == 0 {
		t.Fatal("expected saves")
	}
	if last.Setpoint != h.c.Setpoint() || last.Low != h.c.LowLimit() || last.High != h.c.HighLimit() {
		t.Errorf("last save %+v does not match final state %v/%v/%v", last, h.c.Setpoint(), h.c.LowLimit(), h.c.HighLimit())
	}
}

func TestConcurrentSetSetpointKeepsSubmittedValue(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		h := newHarness(t, nil)

		// Distinct values inside the default limits.
		values := make([]float64, 8)
		for i := range values {
			values[i] = -20 + float64(i)*5 + rng.Float64()
		}
		rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })

		var wg sync.WaitGroup
		for _, v := range values {
			wg.Add(1)
			go func(v float64) {
				defer wg.Done()
				if err := h.c.SetSetpoint(v); err != nil {
					t.Errorf("SetSetpoint(%v): %v", v, err)
				}
			}(v)
		}
		wg.Wait()

		got := h.c.Setpoint()
		found := false
		for _, v := range values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("round %d: setpoint %v is not one of %v", round, got, values)
		}
		if last, _ := h.saver.last(); last.Setpoint != got {
			t.Errorf("round %d: last save %v, want %v", round, last.Setpoint, got)
		}
	}
}

func TestTemperatureAndHumidity(t *testing.T) {
	h := newHarness(t, nil)
	h.sensor.Set(sensor.Reading{TemperatureC: 21.5, HumidityRH: 37})

	temp, err := h.c.Temperature()
	if err != nil || temp != 21.5 {
		t.Errorf("Temperature: got %v, %v", temp, err)
	}
	rh, err := h.c.Humidity()
	if err != nil || rh != 37 {
		t.Errorf("Humidity: got %v, %v", rh, err)
	}

	h.sensor.SetError(errors.New("no ack"))
	if _, err := h.c.Temperature(); errcode.Of(err) != errcode.HardwareIO {
		t.Errorf("got %v, want hardware_io", err)
	}
}

func TestPeltierGetters(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	v, err := h.c.PeltierSetVoltage()
	if err != nil || v != 30 {
		t.Errorf("set voltage: got %v, %v", v, err)
	}
	if a, err := h.c.PeltierSetCurrent(); err != nil || a != 0 {
		t.Errorf("set current: got %v, %v", a, err)
	}
	if v, err := h.c.PeltierMeasuredVoltage(); err != nil || v != 30 {
		t.Errorf("measured voltage: got %v, %v", v, err)
	}
	on, err := h.c.PeltierOutput()
	if err != nil || !on {
		t.Errorf("output: got %v, %v", on, err)
	}

	h.psu.Fail(psu.OpMeasuredCurrent, errors.New("timeout"))
	if _, err := h.c.PeltierMeasuredCurrent(); errcode.Of(err) != errcode.HardwareIO {
		t.Errorf("got %v, want hardware_io", err)
	}
}

func TestSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.sensor.Set(sensor.Reading{TemperatureC: 21, HumidityRH: 45})

	s := h.c.Summary()
	if s.Status != logic.StateOff || s.Setpoint != 22 {
		t.Errorf("summary: got %+v", s)
	}
	if s.Temperature == nil || *s.Temperature != 21 {
		t.Errorf("temperature: got %v", s.Temperature)
	}
	if s.Peltier.Output == nil || *s.Peltier.Output {
		t.Errorf("output: got %v, want false", s.Peltier.Output)
	}
	if len(s.Errors) != 0 {
		t.Errorf("unexpected errors: %v", s.Errors)
	}
}

func TestSummaryNeverFails(t *testing.T) {
	h := newHarness(t, nil)
	h.sensor.SetError(errors.New("crc mismatch"))
	h.psu.Fail(psu.OpMeasuredCurrent, errors.New("timeout"))

	s := h.c.Summary()
	if s.Temperature != nil || s.Humidity != nil {
		t.Errorf("expected nil readings, got %v / %v", s.Temperature, s.Humidity)
	}
	if s.Peltier.MeasuredCurrent != nil {
		t.Errorf("expected nil measured current, got %v", *s.Peltier.MeasuredCurrent)
	}
	if s.Peltier.MeasuredVoltage == nil {
		t.Error("readable fields should still be present")
	}
	if len(s.Errors) != 2 {
		t.Errorf("errors: got %v, want 2 entries", s.Errors)
	}
}

func TestCloseForcesOutputOff(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if err := h.c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if h.psu.IsOn() {
		t.Error("output still on after Close")
	}
	if h.c.Status() != logic.StateOff {
		t.Errorf("status: got %s, want OFF", h.c.Status())
	}
	if !h.psu.Closed() || !h.sensor.Closed() || !h.relay.Closed() {
		t.Error("hardware handles should be closed")
	}

	reports := h.pub.Reports()
	if len(reports) == 0 || reports[len(reports)-1].Event != mqtt.ReportFinished {
		t.Fatalf("expected a final FINISHED report, got %+v", reports)
	}
	if reports[len(reports)-1].Status != logic.StateOff {
		t.Errorf("final report status: got %s", reports[len(reports)-1].Status)
	}
}

// blockingReader holds the next Read until release is closed.
type blockingReader struct {
	*sensor.FakeReader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingReader) Read() (sensor.Reading, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.FakeReader.Read()
}

func TestCloseTimeoutStillReleasesHardware(t *testing.T) {
	var br *blockingReader
	h := newHarness(t, func(_ *Config, d *Deps) {
		br = &blockingReader{
			FakeReader: d.Sensor.(*sensor.FakeReader),
			entered:    make(chan struct{}),
			release:    make(chan struct{}),
		}
		d.Sensor = br
	})
	t.Cleanup(func() { close(br.release) })

	// Park the watchdog inside a sensor read.
	go func() { h.wd.ch <- time.Now() }()
	select {
	case <-br.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never read the sensor")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.c.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close: got %v, want deadline exceeded", err)
	}
	if !h.psu.Closed() || !h.sensor.Closed() || !h.relay.Closed() {
		t.Error("hardware handles should be closed after a timed-out Close")
	}
	if h.psu.IsOn() {
		t.Error("output still on after Close")
	}
}

func TestOperationsAfterClose(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Close(context.Background())

	if err := h.c.Start(); !errors.Is(err, errcode.Closed) {
		t.Errorf("Start: got %v, want closed", err)
	}
	if err := h.c.SetSetpoint(10); !errors.Is(err, errcode.Closed) {
		t.Errorf("SetSetpoint: got %v, want closed", err)
	}
	if _, err := h.c.Temperature(); !errors.Is(err, errcode.Closed) {
		t.Errorf("Temperature: got %v, want closed", err)
	}
	if err := h.c.Close(context.Background()); err != nil {
		t.Errorf("second Close: got %v, want nil", err)
	}
	if s := h.c.Summary(); len(s.Errors) == 0 {
		t.Error("summary after close should report it")
	}
}
