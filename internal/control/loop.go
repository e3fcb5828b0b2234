package control

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/logic"
)

// Start turns temperature control on: it engages the interlock, programs the
// supply voltage with zero current, enables the output and launches the PID
// loop. Calling Start while ON does nothing.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errcode.Closed
	}
	if c.status == logic.StateOn {
		return nil
	}

	if err := c.relay.Set(true); err != nil {
		return errcode.Hardware("start", fmt.Errorf("engage interlock: %w", err))
	}
	steps := []struct {
		name string
		fn   func() error
	}{
		{"set voltage", func() error { return c.psu.SetVoltage(c.cfg.SupplyVoltage) }},
		{"zero current", func() error { return c.psu.SetCurrent(0) }},
		{"enable output", func() error { return c.psu.SetOutput(true) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			c.abortStartLocked()
			return errcode.Hardware("start", fmt.Errorf("%s: %w", s.name, err))
		}
	}

	c.status = logic.StateOn
	quit := make(chan struct{})
	c.session = quit
	c.loopWG.Add(1)
	go c.runLoop(quit)

	log.Info().
		Float64("setpoint", c.setpoint).
		Float64("voltage", c.cfg.SupplyVoltage).
		Msg("temperature control started")
	return nil
}

// abortStartLocked undoes a partial start. Status is still OFF.
func (c *Controller) abortStartLocked() {
	if err := c.psu.SetOutput(false); err != nil {
		log.Error().Err(err).Msg("failed to disable output after aborted start")
	}
	if err := c.relay.Set(false); err != nil {
		log.Error().Err(err).Msg("failed to release interlock after aborted start")
	}
}

// Stop turns the Peltier output off and ends the control session. The loop
// goroutine exits at its next tick boundary. Stop while OFF changes no state
// but still commands the output off.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errcode.Closed
	}
	return errcode.Hardware("stop", c.stopLocked())
}

// stopLocked forces the actuator off and moves to OFF. The state changes even
// if the supply refuses the command.
func (c *Controller) stopLocked() error {
	var errs []error
	if err := c.psu.SetOutput(false); err != nil {
		errs = append(errs, fmt.Errorf("disable output: %w", err))
		if err := c.psu.SetCurrent(0); err != nil {
			errs = append(errs, fmt.Errorf("zero current: %w", err))
		}
	}
	if err := c.relay.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("release interlock: %w", err))
	}

	if c.status == logic.StateOn {
		log.Info().Msg("temperature control stopped")
	}
	c.status = logic.StateOff
	if c.session != nil {
		close(c.session)
		c.session = nil
	}
	return errors.Join(errs...)
}

// runLoop is the body of one ON session.
func (c *Controller) runLoop(quit chan struct{}) {
	defer c.loopWG.Done()

	select {
	case <-quit:
		return
	case <-c.clk.after(c.cfg.SettleDelay):
	}

	t := c.clk.loopTicker(c.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-quit:
			return
		case <-t.C():
			if !c.loopTick(quit) {
				return
			}
		}
	}
}

// loopTick runs one PID step. It returns false once the session is over.
func (c *Controller) loopTick(quit chan struct{}) bool {
	r, readErr := c.sensor.Read()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != quit {
		return false
	}
	defer func() { c.stats.LoopTicks++ }()

	if readErr != nil {
		c.stats.LoopErrors++
		log.Warn().Err(readErr).Msg("control tick skipped: sensor read failed")
		return true
	}
	if !finite(r.TemperatureC) {
		c.stats.LoopErrors++
		log.Warn().Float64("temperature", r.TemperatureC).Msg("control tick skipped: invalid temperature")
		return true
	}

	on, err := c.psu.Output()
	if err != nil {
		c.stats.LoopErrors++
		log.Warn().Err(err).Msg("control tick skipped: output state unreadable")
		return true
	}
	if !on {
		log.Warn().Msg("peltier output was switched off externally, ending control session")
		if err := c.stopLocked(); err != nil {
			log.Error().Err(err).Msg("failed to secure actuator")
		}
		return false
	}

	current := c.pid.Step(c.setpoint, r.TemperatureC, c.cfg.TickInterval)
	if err := c.psu.SetCurrent(current); err != nil {
		c.stats.LoopErrors++
		log.Warn().Err(err).Float64("current", current).Msg("control tick: set current failed")
		return true
	}

	log.Debug().
		Float64("setpoint", c.setpoint).
		Float64("temperature", r.TemperatureC).
		Float64("current", current).
		Float64("integral", c.pid.Integral()).
		Msg("control tick")
	return true
}
