package control

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/psu"
)

func TestStartSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if h.c.Status() != logic.StateOn {
		t.Fatalf("status: got %s, want ON", h.c.Status())
	}
	if !h.relay.Engaged() {
		t.Error("interlock should be engaged while ON")
	}

	want := []psu.Write{
		{Op: psu.OpSetVoltage, Value: 30},
		{Op: psu.OpSetCurrent, Value: 0},
		{Op: psu.OpSetOutput, Value: 1},
	}
	got := h.psu.Writes()
	if len(got) != len(want) {
		t.Fatalf("writes: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if err := h.c.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if n := h.psu.CountWrites(psu.OpSetOutput); n != 1 {
		t.Errorf("output enabled %d times, want 1", n)
	}
	if n := h.loops.Load(); n != 1 {
		t.Errorf("loops: got %d, want 1", n)
	}
}

func TestConcurrentStartLaunchesOneLoop(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.c.Start()
		}()
	}
	wg.Wait()

	waitFor(t, "loop", func() bool { return h.loops.Load() == 1 })
	if n := h.psu.CountWrites(psu.OpSetVoltage); n != 1 {
		t.Errorf("start sequence ran %d times, want 1", n)
	}
	time.Sleep(10 * time.Millisecond)
	if n := h.loops.Load(); n != 1 {
		t.Errorf("loops: got %d, want 1", n)
	}
}

func TestLoopFollowsPID(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.Setpoint = 20 })
	h.start(t)

	tests := []struct {
		temp    float64
		current float64
	}{
		{25, 3.0},
		{24, 0.9},
		{23, 0.7},
		{22, 0.4},
		{21, 0.0},
	}
	for i, tt := range tests {
		h.sensor.SetTemperature(tt.temp)
		h.loopTick(t)
		if got := h.psu.SetpointCurrent(); math.Abs(got-tt.current) > 1e-9 {
			t.Errorf("tick %d: current got %v, want %v", i+1, got, tt.current)
		}
	}
}

func TestLoopPicksUpNewSetpoint(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.Gains.Ki, c.Gains.Kd = 0, 0 })
	h.start(t)
	h.sensor.SetTemperature(25)

	h.loopTick(t)
	if got := h.psu.SetpointCurrent(); got != 1.5 { // -0.5 * (22-25)
		t.Fatalf("got %v, want 1.5", got)
	}

	if err := h.c.SetSetpoint(21); err != nil {
		t.Fatalf("SetSetpoint: %v", err)
	}
	h.loopTick(t)
	if got := h.psu.SetpointCurrent(); got != 2 {
		t.Errorf("got %v, want 2", got)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.c.Status() != logic.StateOff {
		t.Errorf("status: got %s, want OFF", h.c.Status())
	}
	if h.psu.IsOn() {
		t.Error("output still enabled after Stop")
	}
	if h.relay.Engaged() {
		t.Error("interlock still engaged after Stop")
	}
	waitLoopExit(t, h.c)
}

func TestStopWhileOff(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.c.Status() != logic.StateOff {
		t.Errorf("status: got %s", h.c.Status())
	}
	if n := h.psu.CountWrites(psu.OpSetOutput); n != 1 {
		t.Errorf("output disable should still be commanded, got %d writes", n)
	}
}

func TestRestartAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.c.Stop()
	waitLoopExit(t, h.c)

	h.start(t)
	if h.c.Status() != logic.StateOn || !h.psu.IsOn() {
		t.Fatal("expected ON with output enabled after restart")
	}
	h.loopTick(t)
}

func TestOutputEnabledOnlyWhileOn(t *testing.T) {
	h := newHarness(t, nil)

	check := func(stage string) {
		t.Helper()
		on := h.c.Status() == logic.StateOn
		if h.psu.IsOn() != on || h.relay.Engaged() != on {
			t.Errorf("%s: status=%s output=%v relay=%v", stage, h.c.Status(), h.psu.IsOn(), h.relay.Engaged())
		}
	}

	check("initial")
	h.start(t)
	check("started")
	h.loopTick(t)
	check("after tick")
	h.c.Stop()
	check("stopped")
	h.start(t)
	h.sensor.SetTemperature(40)
	h.watchdogTick(t)
	check("after violation")
}

func TestExternalOutputOffEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.psu.SwitchOff()
	h.loop.tick(t)

	waitFor(t, "status OFF", func() bool { return h.c.Status() == logic.StateOff })
	waitLoopExit(t, h.c)
	if h.relay.Engaged() {
		t.Error("interlock should be released")
	}
	if n := h.psu.CountWrites(psu.OpSetCurrent); n != 1 {
		t.Errorf("no current may be written after the output went off, got %d SetCurrent", n)
	}
}

func TestLoopTickErrorsAreSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.sensor.SetError(errors.New("no ack"))
	h.loopTick(t)

	h.sensor.SetError(nil)
	h.psu.Fail(psu.OpSetCurrent, errors.New("serial timeout"))
	h.loopTick(t)

	h.psu.Fail(psu.OpSetCurrent, nil)
	h.psu.Fail(psu.OpOutput, errors.New("serial timeout"))
	h.loopTick(t)

	st := h.c.Stats()
	if st.LoopErrors != 3 {
		t.Errorf("loop errors: got %d, want 3", st.LoopErrors)
	}
	if h.c.Status() != logic.StateOn {
		t.Errorf("tick errors must not stop the loop, status=%s", h.c.Status())
	}

	h.psu.Fail(psu.OpOutput, nil)
	h.sensor.SetTemperature(25)
	h.loopTick(t)
	if h.psu.SetpointCurrent() <= 0 {
		t.Error("loop should resume writing current once I/O recovers")
	}
}

func TestStartHardwareFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.psu.Fail(psu.OpSetVoltage, errors.New("port closed"))

	err := h.c.Start()
	if errcode.Of(err) != errcode.HardwareIO {
		t.Fatalf("got %v, want hardware_io", err)
	}
	if h.c.Status() != logic.StateOff || h.psu.IsOn() || h.relay.Engaged() {
		t.Error("failed start must leave everything off")
	}
	if h.loops.Load() != 0 {
		t.Error("no loop may run after a failed start")
	}
}

func TestStartInterlockFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.relay.SetError(errors.New("line busy"))

	if err := h.c.Start(); errcode.Of(err) != errcode.HardwareIO {
		t.Fatalf("got %v, want hardware_io", err)
	}
	if len(h.psu.Writes()) != 0 {
		t.Error("supply must not be touched when the interlock cannot engage")
	}
}

func TestStopHardwareFailureStillStops(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.psu.Fail(psu.OpSetOutput, errors.New("serial timeout"))

	err := h.c.Stop()
	if errcode.Of(err) != errcode.HardwareIO {
		t.Fatalf("got %v, want hardware_io", err)
	}
	if h.c.Status() != logic.StateOff {
		t.Error("status must be OFF even when the supply refuses")
	}
	if h.relay.Engaged() {
		t.Error("interlock must be released")
	}
	if h.psu.SetpointCurrent() != 0 {
		t.Errorf("current should be zeroed as a fallback, got %v", h.psu.SetpointCurrent())
	}
	waitLoopExit(t, h.c)
}

func TestNoOverlappingSupplyWrites(t *testing.T) {
	h := newHarness(t, nil)
	h.psu.WriteDelay = time.Millisecond
	h.sensor.SetTemperature(24)

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Loop ticks whenever a session is listening.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case h.loop.ch <- time.Now():
			case <-time.After(time.Millisecond):
			}
		}
	}()

	var callers sync.WaitGroup
	for i := 0; i < 4; i++ {
		callers.Add(1)
		go func() {
			defer callers.Done()
			for j := 0; j < 10; j++ {
				h.c.Start()
				h.c.PeltierOutput()
				h.c.Stop()
			}
		}()
	}
	callers.Wait()
	close(done)
	wg.Wait()

	if h.psu.Overlapped() {
		t.Error("two supply writes were in flight at the same time")
	}
}
