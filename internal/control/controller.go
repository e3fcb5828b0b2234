package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/interlock"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/pid"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
	"github.com/sweeney/climate-controller/internal/store"
)

// Controller is the shared controller instance. All methods are safe for
// concurrent use.
type Controller struct {
	cfg       Config
	clk       clock
	sensor    sensor.Reader
	psu       psu.Supply
	relay     interlock.Line
	notify    Notifier
	settings  SettingsSaver
	heartbeat func()

	mu         sync.Mutex
	status     logic.State
	setpoint   float64
	low        float64
	high       float64
	pid        *pid.Controller
	session    chan struct{} // closed when the current ON session ends; nil while OFF
	guard      *logic.Guard
	stats      Stats
	lastReport mqtt.Report
	haveReport bool

	persistMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	quit      chan struct{}
	loopWG    sync.WaitGroup
	wdWG      sync.WaitGroup
}

// New validates cfg, takes ownership of the hardware handles and starts the
// safety watchdog. The controller starts OFF.
func New(cfg Config, deps Deps) (*Controller, error) {
	return newController(cfg, deps, realClock())
}

func newController(cfg Config, deps Deps, clk clock) (*Controller, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if deps.Sensor == nil || deps.Supply == nil {
		return nil, errcode.Invalid("new", "sensor and supply are required")
	}
	if deps.Interlock == nil {
		deps.Interlock = interlock.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = mqtt.LogPublisher{}
	}

	c := &Controller{
		cfg:       cfg,
		clk:       clk,
		sensor:    deps.Sensor,
		psu:       deps.Supply,
		relay:     deps.Interlock,
		notify:    deps.Notifier,
		settings:  deps.Settings,
		heartbeat: deps.Heartbeat,
		status:    logic.StateOff,
		setpoint:  cfg.Setpoint,
		low:       cfg.Low,
		high:      cfg.High,
		pid:       pid.New(cfg.Gains, 0, cfg.CurrentMax),
		guard:     logic.NewGuard(cfg.ReportInterval, cfg.FailSafeOnSensorError, clk.now()),
		quit:      make(chan struct{}),
	}

	c.wdWG.Add(1)
	go c.runWatchdog()

	log.Info().
		Float64("setpoint", c.setpoint).
		Float64("low", c.low).
		Float64("high", c.high).
		Msg("controller ready")
	return c, nil
}

func validate(cfg Config) error {
	for _, v := range []float64{cfg.Setpoint, cfg.Low, cfg.High, cfg.CurrentMax, cfg.SupplyVoltage} {
		if !finite(v) {
			return errcode.Invalid("new", "non-finite value in config")
		}
	}
	switch {
	case cfg.Low >= cfg.High:
		return errcode.Invalid("new", fmt.Sprintf("low limit %.2f °C must be below high limit %.2f °C", cfg.Low, cfg.High))
	case cfg.Setpoint < cfg.Low || cfg.Setpoint > cfg.High:
		return errcode.Invalid("new", fmt.Sprintf("setpoint %.2f °C outside [%.2f, %.2f] °C", cfg.Setpoint, cfg.Low, cfg.High))
	case cfg.CurrentMax <= 0:
		return errcode.Invalid("new", "current_max must be positive")
	case cfg.SupplyVoltage <= 0:
		return errcode.Invalid("new", "supply_voltage must be positive")
	case cfg.TickInterval <= 0 || cfg.WatchdogInterval <= 0:
		return errcode.Invalid("new", "tick intervals must be positive")
	}
	return nil
}

// Temperature reads the sensor, in °C.
func (c *Controller) Temperature() (float64, error) {
	r, err := c.read("read_temperature")
	return r.TemperatureC, err
}

// Humidity reads the sensor, in %RH.
func (c *Controller) Humidity() (float64, error) {
	r, err := c.read("read_humidity")
	return r.HumidityRH, err
}

// Sensor reads bypass the controller lock.
func (c *Controller) read(op string) (sensor.Reading, error) {
	if c.closed.Load() {
		return sensor.Reading{}, errcode.Closed
	}
	r, err := c.sensor.Read()
	if err != nil {
		return sensor.Reading{}, errcode.Hardware(op, err)
	}
	return r, nil
}

// Setpoint returns the target temperature in °C.
func (c *Controller) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// SetSetpoint changes the target. It must lie within [low, high]; the loop
// picks it up on its next tick.
func (c *Controller) SetSetpoint(v float64) error {
	const op = "set_setpoint"
	if !finite(v) {
		return errcode.Invalid(op, "must be a finite number")
	}
	if err := c.update(op, func() error {
		if v < c.low || v > c.high {
			return errcode.Invalid(op, fmt.Sprintf("%.2f °C outside [%.2f, %.2f] °C", v, c.low, c.high))
		}
		c.setpoint = v
		return nil
	}); err != nil {
		return err
	}
	log.Info().Float64("setpoint", v).Msg("setpoint changed")
	return nil
}

// LowLimit returns the lower safety bound in °C.
func (c *Controller) LowLimit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.low
}

// SetLowLimit changes the lower safety bound. It must stay below the high
// limit and must not exclude the current setpoint.
func (c *Controller) SetLowLimit(v float64) error {
	const op = "set_low_limit"
	if !finite(v) {
		return errcode.Invalid(op, "must be a finite number")
	}
	if err := c.update(op, func() error {
		if v >= c.high {
			return errcode.Invalid(op, fmt.Sprintf("%.2f °C not below high limit %.2f °C", v, c.high))
		}
		if v > c.setpoint {
			return errcode.Invalid(op, fmt.Sprintf("%.2f °C would exclude setpoint %.2f °C", v, c.setpoint))
		}
		c.low = v
		return nil
	}); err != nil {
		return err
	}
	log.Info().Float64("low", v).Msg("low limit changed")
	return nil
}

// HighLimit returns the upper safety bound in °C.
func (c *Controller) HighLimit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.high
}

// SetHighLimit changes the upper safety bound. It must stay above the low
// limit and must not exclude the current setpoint.
func (c *Controller) SetHighLimit(v float64) error {
	const op = "set_high_limit"
	if !finite(v) {
		return errcode.Invalid(op, "must be a finite number")
	}
	if err := c.update(op, func() error {
		if v <= c.low {
			return errcode.Invalid(op, fmt.Sprintf("%.2f °C not above low limit %.2f °C", v, c.low))
		}
		if v < c.setpoint {
			return errcode.Invalid(op, fmt.Sprintf("%.2f °C would exclude setpoint %.2f °C", v, c.setpoint))
		}
		c.high = v
		return nil
	}); err != nil {
		return err
	}
	log.Info().Float64("high", v).Msg("high limit changed")
	return nil
}

// update applies fn under the lock and persists the result if it succeeded.
func (c *Controller) update(op string, fn func() error) error {
	if c.closed.Load() {
		return errcode.Closed
	}
	c.mu.Lock()
	err := fn()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.persist()
	return nil
}

// persist saves the latest settings. Saves are serialized and each one
// snapshots the state at write time, so the last save always wins with the
// newest values.
func (c *Controller) persist() {
	if c.settings == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	s := store.Settings{Setpoint: c.setpoint, Low: c.low, High: c.high, Updated: c.clk.now().UTC()}
	c.mu.Unlock()

	if err := c.settings.Save(s); err != nil {
		log.Warn().Err(err).Msg("failed to persist settings")
	}
}

// Status returns ON or OFF.
func (c *Controller) Status() logic.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// PeltierSetVoltage returns the supply's voltage setpoint in V.
func (c *Controller) PeltierSetVoltage() (float64, error) {
	return c.supplyRead("peltier_set_voltage", c.psu.Voltage)
}

// PeltierSetCurrent returns the supply's current setpoint in A.
func (c *Controller) PeltierSetCurrent() (float64, error) {
	return c.supplyRead("peltier_set_current", c.psu.Current)
}

// PeltierMeasuredVoltage returns the voltage across the Peltier array in V.
func (c *Controller) PeltierMeasuredVoltage() (float64, error) {
	return c.supplyRead("peltier_measured_voltage", c.psu.MeasuredVoltage)
}

// PeltierMeasuredCurrent returns the current through the Peltier array in A.
func (c *Controller) PeltierMeasuredCurrent() (float64, error) {
	return c.supplyRead("peltier_measured_current", c.psu.MeasuredCurrent)
}

// PeltierOutput reports whether the supply output is enabled.
func (c *Controller) PeltierOutput() (bool, error) {
	if c.closed.Load() {
		return false, errcode.Closed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	on, err := c.psu.Output()
	if err != nil {
		return false, errcode.Hardware("peltier_output", err)
	}
	return on, nil
}

func (c *Controller) supplyRead(op string, fn func() (float64, error)) (float64, error) {
	if c.closed.Load() {
		return 0, errcode.Closed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := fn()
	if err != nil {
		return 0, errcode.Hardware(op, err)
	}
	return v, nil
}

// Summary gathers everything in one call. It never fails; unreadable fields
// are nil and listed in Errors.
func (c *Controller) Summary() Summary {
	s := Summary{Timestamp: c.clk.now()}

	if c.closed.Load() {
		s.Errors = append(s.Errors, "controller closed")
	} else if r, err := c.sensor.Read(); err != nil {
		s.Errors = append(s.Errors, "sensor: "+err.Error())
	} else {
		s.Temperature = finitePtr(r.TemperatureC)
		s.Humidity = finitePtr(r.HumidityRH)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s.Status = c.status
	s.Setpoint = c.setpoint
	s.Low = c.low
	s.High = c.high
	s.Events = c.guard.Counts()
	if c.closed.Load() {
		return s
	}

	readings := []struct {
		name string
		fn   func() (float64, error)
		dst  **float64
	}{
		{"set_voltage", c.psu.Voltage, &s.Peltier.SetVoltage},
		{"set_current", c.psu.Current, &s.Peltier.SetCurrent},
		{"measured_voltage", c.psu.MeasuredVoltage, &s.Peltier.MeasuredVoltage},
		{"measured_current", c.psu.MeasuredCurrent, &s.Peltier.MeasuredCurrent},
	}
	for _, r := range readings {
		v, err := r.fn()
		if err != nil {
			s.Errors = append(s.Errors, "peltier "+r.name+": "+err.Error())
			continue
		}
		*r.dst = finitePtr(v)
	}
	if on, err := c.psu.Output(); err != nil {
		s.Errors = append(s.Errors, "peltier output: "+err.Error())
	} else {
		s.Peltier.Output = &on
	}
	return s
}

// LastReport returns the most recent watchdog report, if any was built.
func (c *Controller) LastReport() (mqtt.Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport, c.haveReport
}

// Stats returns a copy of the runtime counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close turns the Peltiers off, stops the watchdog (which posts a final
// report), waits for the goroutines and releases the hardware. Later calls
// return nil.
func (c *Controller) Close(ctx context.Context) error {
	first := false
	var stopErr error
	c.closeOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.closed.Store(true)
		stopErr = errcode.Hardware("close", c.stopLocked())
		c.mu.Unlock()
		close(c.quit)
	})
	if !first {
		return nil
	}

	done := make(chan struct{})
	go func() {
		c.loopWG.Wait()
		c.wdWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Later calls return nil, so the handles are released here too.
		log.Warn().Err(ctx.Err()).Msg("goroutines still running, closing hardware anyway")
		return errors.Join(stopErr, fmt.Errorf("wait for goroutines: %w", ctx.Err()), c.closeHandles())
	}

	c.logFinalState()
	return errors.Join(stopErr, c.closeHandles())
}

func (c *Controller) closeHandles() error {
	var errs []error
	if err := c.relay.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close interlock: %w", err))
	}
	if err := c.psu.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close supply: %w", err))
	}
	if err := c.sensor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sensor: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Controller) logFinalState() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := log.Info()
	if on, err := c.psu.Output(); err == nil {
		ev = ev.Bool("output", on)
	}
	if a, err := c.psu.MeasuredCurrent(); err == nil {
		ev = ev.Float64("current", a)
	}
	if v, err := c.psu.MeasuredVoltage(); err == nil {
		ev = ev.Float64("voltage", v)
	}
	ev.Msg("controller closed, final peltier state")
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePtr(v float64) *float64 {
	if !finite(v) {
		return nil
	}
	return &v
}
