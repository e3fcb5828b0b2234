// Package control is the closed-loop temperature controller: a PID loop that
// drives the Peltier supply while ON, a safety watchdog that runs for the
// controller's lifetime, and the single shared handle remote callers use.
//
// One mutex guards the control state and every actuator access. Code that
// already holds it calls the *Locked helpers instead of re-locking.
package control

import (
	"time"

	"github.com/sweeney/climate-controller/internal/interlock"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/pid"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
	"github.com/sweeney/climate-controller/internal/store"
)

// Config holds the controller parameters.
type Config struct {
	Setpoint float64 // °C
	Low      float64 // °C, safety lower bound
	High     float64 // °C, safety upper bound

	Gains         pid.Gains
	CurrentMax    float64 // A, PID output upper limit
	SupplyVoltage float64 // V, programmed on every start

	TickInterval time.Duration // PID sample time
	SettleDelay  time.Duration // wait after enabling the output

	WatchdogInterval      time.Duration
	ReportInterval        time.Duration // <= 0 disables periodic reports
	FailSafeOnSensorError bool          // stop when the sensor is unreadable while ON
}

// DefaultConfig returns the bench defaults.
func DefaultConfig() Config {
	return Config{
		Setpoint:              22,
		Low:                   -25,
		High:                  25,
		Gains:                 pid.Gains{Kp: -0.5, Ki: -0.1, Kd: -2},
		CurrentMax:            4.2,
		SupplyVoltage:         30,
		TickInterval:          time.Second,
		SettleDelay:           500 * time.Millisecond,
		WatchdogInterval:      time.Second,
		ReportInterval:        time.Minute,
		FailSafeOnSensorError: true,
	}
}

// Notifier is where status reports and safety alerts go.
// mqtt.Publisher satisfies it.
type Notifier interface {
	PublishReport(r mqtt.Report) error
	PublishAlert(event logic.Event) error
}

// SettingsSaver persists accepted setpoint/limit changes. *store.Store
// satisfies it.
type SettingsSaver interface {
	Save(s store.Settings) error
}

// Deps are the hardware handles and sinks. Sensor and Supply are required;
// the controller owns all handles and closes them in Close.
type Deps struct {
	Sensor    sensor.Reader
	Supply    psu.Supply
	Interlock interlock.Line // nil: no relay fitted
	Notifier  Notifier       // nil: log only
	Settings  SettingsSaver  // nil: settings are not persisted

	// Heartbeat is called after every watchdog tick.
	Heartbeat func()
}

// Stats are runtime counters.
type Stats struct {
	LoopTicks     uint64 `json:"loop_ticks"`
	LoopErrors    uint64 `json:"loop_errors"`
	WatchdogTicks uint64 `json:"watchdog_ticks"`
	Violations    uint64 `json:"violations"`
	Alerts        uint64 `json:"alerts"`
	AlertErrors   uint64 `json:"alert_errors"`
	Reports       uint64 `json:"reports"`
	ReportErrors  uint64 `json:"report_errors"`
}

// Summary is a point-in-time view of the controller. Nil values could not be
// read; Errors says why.
type Summary struct {
	Timestamp   time.Time         `json:"timestamp"`
	Status      logic.State       `json:"status"`
	Setpoint    float64           `json:"setpoint"`
	Low         float64           `json:"low"`
	High        float64           `json:"high"`
	Temperature *float64          `json:"temperature"`
	Humidity    *float64          `json:"humidity"`
	Peltier     Peltier           `json:"peltier"`
	Events      logic.EventCounts `json:"events"`
	Errors      []string          `json:"errors,omitempty"`
}

// Peltier is the supply state as read back from the device.
type Peltier struct {
	SetVoltage      *float64 `json:"set_voltage"`
	SetCurrent      *float64 `json:"set_current"`
	MeasuredVoltage *float64 `json:"measured_voltage"`
	MeasuredCurrent *float64 `json:"measured_current"`
	Output          *bool    `json:"output"`
}

// ticker abstracts time.Ticker so tests can drive ticks by hand.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

// clock bundles the time sources.
type clock struct {
	now            func() time.Time
	after          func(time.Duration) <-chan time.Time
	loopTicker     func(time.Duration) ticker
	watchdogTicker func(time.Duration) ticker
}

func realClock() clock {
	return clock{
		now:            time.Now,
		after:          time.After,
		loopTicker:     newRealTicker,
		watchdogTicker: newRealTicker,
	}
}
