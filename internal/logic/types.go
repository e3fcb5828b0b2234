// Package logic contains the pure safety decisions of the climate controller.
// This package has NO external dependencies (no hardware, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State is the control status of the Peltier loop.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType is a safety finding that forces the loop off.
type EventType string

const (
	EventOverTemperature  EventType = "OVER_TEMPERATURE"
	EventUnderTemperature EventType = "UNDER_TEMPERATURE"
	EventSensorFault      EventType = "SENSOR_FAULT"
)

// Event is a safety finding to be enforced and escalated.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	Temperature float64 // NaN for EventSensorFault
	Low         float64
	High        float64
	Detail      string
}

// Input is one watchdog sample together with the limits in force.
type Input struct {
	Time        time.Time
	Status      State
	Temperature float64
	SensorOK    bool // false when the sensor read failed
	SensorError string
	Low         float64
	High        float64
}

// EventCounts tracks findings since startup.
type EventCounts struct {
	OverTemperature  int `json:"over_temperature"`
	UnderTemperature int `json:"under_temperature"`
	SensorFault      int `json:"sensor_fault"`
}

// Total returns the number of findings of any type.
func (c EventCounts) Total() int {
	return c.OverTemperature + c.UnderTemperature + c.SensorFault
}

// ReportData marks that a periodic status report is due.
type ReportData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
