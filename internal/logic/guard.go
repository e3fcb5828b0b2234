package logic

import (
	"fmt"
	"math"
	"time"
)

// Guard decides, sample by sample, whether the running loop must be forced
// off and whether a periodic report is due.
type Guard struct {
	reportInterval time.Duration
	failSafe       bool
	startTime      time.Time
	lastReport     time.Time
	reported       bool
	eventCounts    EventCounts
}

// NewGuard creates a guard. reportInterval <= 0 disables periodic reports.
// With failSafe set, an unreadable sensor while ON counts as a finding.
func NewGuard(reportInterval time.Duration, failSafe bool, startTime time.Time) *Guard {
	return &Guard{
		reportInterval: reportInterval,
		failSafe:       failSafe,
		startTime:      startTime,
	}
}

// Process evaluates one sample. It returns nil unless the loop is ON and the
// sample is out of bounds (or unreadable, in fail-safe mode).
func (g *Guard) Process(input Input) *Event {
	if input.Status != StateOn {
		return nil
	}

	var ev *Event
	switch {
	case !input.SensorOK || math.IsNaN(input.Temperature):
		if !g.failSafe {
			return nil
		}
		detail := input.SensorError
		if detail == "" {
			detail = "temperature unavailable"
		}
		ev = &Event{Type: EventSensorFault, Temperature: math.NaN(), Detail: detail}
	case input.Temperature > input.High:
		ev = &Event{
			Type:        EventOverTemperature,
			Temperature: input.Temperature,
			Detail:      fmt.Sprintf("%.2f °C above high limit %.2f °C", input.Temperature, input.High),
		}
	case input.Temperature < input.Low:
		ev = &Event{
			Type:        EventUnderTemperature,
			Temperature: input.Temperature,
			Detail:      fmt.Sprintf("%.2f °C below low limit %.2f °C", input.Temperature, input.Low),
		}
	default:
		return nil
	}

	ev.Timestamp = input.Time
	ev.Low = input.Low
	ev.High = input.High

	switch ev.Type {
	case EventOverTemperature:
		g.eventCounts.OverTemperature++
	case EventUnderTemperature:
		g.eventCounts.UnderTemperature++
	case EventSensorFault:
		g.eventCounts.SensorFault++
	}
	return ev
}

// CheckReport returns report data if no report was sent yet or the interval
// has elapsed since the last one. Returns nil if reports are disabled.
func (g *Guard) CheckReport(now time.Time) *ReportData {
	if g.reportInterval <= 0 {
		return nil
	}
	if g.reported && now.Sub(g.lastReport) < g.reportInterval {
		return nil
	}

	g.reported = true
	g.lastReport = now
	return &ReportData{
		Timestamp: now,
		Uptime:    now.Sub(g.startTime),
		Counts:    g.eventCounts,
	}
}

// Counts returns the findings recorded so far.
func (g *Guard) Counts() EventCounts {
	return g.eventCounts
}

// StartTime returns the time the guard was created.
func (g *Guard) StartTime() time.Time {
	return g.startTime
}

// InBounds reports whether t lies within [low, high].
func InBounds(t, low, high float64) bool {
	return t >= low && t <= high
}
