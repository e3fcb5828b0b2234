package control

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweeney/climate-controller/internal/interlock"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
	"github.com/sweeney/climate-controller/internal/store"
)

// manualTicker delivers a tick only when the test sends one. The channel is
// unbuffered, so a send returns once the goroutine has taken the tick.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not consumed")
	}
}

// fakeSaver records persisted settings.
type fakeSaver struct {
	mu    sync.Mutex
	saves []store.Settings
}

func (f *fakeSaver) Save(s store.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, s)
	return nil
}

func (f *fakeSaver) last() (store.Settings, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return store.Settings{}, 0
	}
	return f.saves[len(f.saves)-1], len(f.saves)
}

type harness struct {
	c      *Controller
	sensor *sensor.FakeReader
	psu    *psu.FakeSupply
	relay  *interlock.FakeLine
	pub    *mqtt.FakePublisher
	saver  *fakeSaver

	loop *manualTicker
	wd   *manualTicker

	loops atomic.Int32 // loop sessions that reached the ticking phase
	beats atomic.Int32
}

// newHarness builds a controller on fakes. mutate may adjust the config and
// deps before construction.
func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()

	h := &harness{
		sensor: sensor.NewFakeReader(sensor.Reading{TemperatureC: 22, HumidityRH: 40}),
		psu:    psu.NewFakeSupply(),
		relay:  interlock.NewFakeLine(),
		pub:    mqtt.NewFakePublisher(),
		saver:  &fakeSaver{},
		loop:   newManualTicker(),
		wd:     newManualTicker(),
	}

	cfg := DefaultConfig()
	deps := Deps{
		Sensor:    h.sensor,
		Supply:    h.psu,
		Interlock: h.relay,
		Notifier:  h.pub,
		Settings:  h.saver,
		Heartbeat: func() { h.beats.Add(1) },
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	clk := clock{
		now: time.Now,
		after: func(time.Duration) <-chan time.Time {
			ch := make(chan time.Time, 1)
			ch <- time.Now()
			return ch
		},
		loopTicker: func(time.Duration) ticker {
			h.loops.Add(1)
			return h.loop
		},
		watchdogTicker: func(time.Duration) ticker { return h.wd },
	}

	c, err := newController(cfg, deps, clk)
	if err != nil {
		t.Fatalf("newController: %v", err)
	}
	h.c = c
	t.Cleanup(func() { c.Close(context.Background()) })
	return h
}

// start turns the controller on and waits until its loop is ready to tick.
func (h *harness) start(t *testing.T) {
	t.Helper()
	want := h.loops.Load() + 1
	if err := h.c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "loop to start ticking", func() bool { return h.loops.Load() >= want })
}

// loopTick runs one PID tick and waits for it to finish.
func (h *harness) loopTick(t *testing.T) {
	t.Helper()
	want := h.c.Stats().LoopTicks + 1
	h.loop.tick(t)
	waitFor(t, "loop tick", func() bool { return h.c.Stats().LoopTicks >= want })
}

// watchdogTick runs one watchdog tick and waits for it to finish.
func (h *harness) watchdogTick(t *testing.T) {
	t.Helper()
	want := h.c.Stats().WatchdogTicks + 1
	h.wd.tick(t)
	waitFor(t, "watchdog tick", func() bool { return h.c.Stats().WatchdogTicks >= want })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// waitLoopExit waits until no loop goroutine is running.
func waitLoopExit(t *testing.T, c *Controller) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop goroutine did not exit")
	}
}
