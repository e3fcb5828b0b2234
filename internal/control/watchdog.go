package control

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/errcode"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/sensor"
)

// runWatchdog enforces the safety bounds for the controller's lifetime,
// independently of the loop state.
func (c *Controller) runWatchdog() {
	defer c.wdWG.Done()

	t := c.clk.watchdogTicker(c.cfg.WatchdogInterval)
	defer t.Stop()

	for {
		select {
		case <-c.quit:
			c.finalReport()
			return
		case <-t.C():
			c.watchdogTick()
		}
	}
}

// watchdogTick runs one safety check. Panics are recovered so the watchdog
// keeps running.
func (c *Controller) watchdogTick() {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("watchdog tick panicked")
		}
		c.mu.Lock()
		c.stats.WatchdogTicks++
		c.mu.Unlock()
	}()

	now := c.clk.now()
	r, readErr := c.sensor.Read()

	ev, due := c.evaluate(sample(now, r, readErr))
	if ev != nil {
		c.alert(*ev)
	}
	if due != nil {
		c.post(c.buildReport(mqtt.ReportStatus, *due, r, readErr))
	}
	if c.heartbeat != nil {
		c.heartbeat()
	}
}

func sample(now time.Time, r sensor.Reading, err error) logic.Input {
	in := logic.Input{Time: now, Temperature: r.TemperatureC, SensorOK: err == nil}
	if err != nil {
		in.Temperature = math.NaN()
		in.SensorError = err.Error()
	}
	return in
}

// evaluate runs the guard against the current state and enforces any finding
// before the lock is released.
func (c *Controller) evaluate(in logic.Input) (*logic.Event, *logic.ReportData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in.Status = c.status
	in.Low = c.low
	in.High = c.high

	ev := c.guard.Process(in)
	if ev != nil {
		c.stats.Violations++
		log.Error().
			Str("code", string(errcode.SafetyViolation)).
			Str("type", string(ev.Type)).
			Float64("temperature", ev.Temperature).
			Float64("low", ev.Low).
			Float64("high", ev.High).
			Msg("safety violation, forcing output off")
		if err := c.stopLocked(); err != nil {
			log.Error().Err(err).Msg("failed to secure actuator")
		}
	}
	return ev, c.guard.CheckReport(in.Time)
}

func (c *Controller) alert(ev logic.Event) {
	err := c.notify.PublishAlert(ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.AlertErrors++
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to send alert")
		return
	}
	c.stats.Alerts++
}

// buildReport reads the supply under the lock and records the report as the
// latest one.
func (c *Controller) buildReport(event string, rd logic.ReportData, r sensor.Reading, readErr error) mqtt.Report {
	rep := mqtt.Report{
		Timestamp:   rd.Timestamp,
		Event:       event,
		Temperature: r.TemperatureC,
		Humidity:    r.HumidityRH,
		Current:     math.NaN(),
		Voltage:     math.NaN(),
		Uptime:      rd.Uptime,
		Counts:      rd.Counts,
	}
	if readErr != nil {
		rep.Temperature = math.NaN()
		rep.Humidity = math.NaN()
		rep.Errors = append(rep.Errors, "sensor: "+readErr.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rep.Status = c.status
	rep.Setpoint = c.setpoint
	rep.Low = c.low
	rep.High = c.high

	if a, err := c.psu.MeasuredCurrent(); err != nil {
		rep.Errors = append(rep.Errors, "peltier current: "+err.Error())
	} else {
		rep.Current = a
	}
	if v, err := c.psu.MeasuredVoltage(); err != nil {
		rep.Errors = append(rep.Errors, "peltier voltage: "+err.Error())
	} else {
		rep.Voltage = v
	}
	if on, err := c.psu.Output(); err != nil {
		rep.Errors = append(rep.Errors, "peltier output: "+err.Error())
	} else {
		rep.Output = on
		rep.OutputKnown = true
	}

	c.lastReport = rep
	c.haveReport = true
	return rep
}

func (c *Controller) post(rep mqtt.Report) {
	err := c.notify.PublishReport(rep)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.ReportErrors++
		log.Warn().Err(err).Msg("failed to post status report")
		return
	}
	c.stats.Reports++
}

// finalReport posts a FINISHED report on shutdown.
func (c *Controller) finalReport() {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("final report panicked")
		}
	}()

	now := c.clk.now()
	r, readErr := c.sensor.Read()

	c.mu.Lock()
	rd := logic.ReportData{Timestamp: now, Uptime: now.Sub(c.guard.StartTime()), Counts: c.guard.Counts()}
	c.mu.Unlock()

	c.post(c.buildReport(mqtt.ReportFinished, rd, r, readErr))
}
