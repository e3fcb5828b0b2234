// Package psu drives the Peltier DC power supply.
// The real implementation speaks SCPI to an Elektro-Automatik supply over a
// USB serial link. The fake implementation allows testing without hardware.
package psu

// Supply is the actuator port of the controller.
//
// Implementations serialize their own device I/O, so reads may come from
// several goroutines. The controller still funnels every write through its
// own lock so that no two components ever command the output concurrently.
type Supply interface {
	// SetVoltage sets the voltage setpoint in volts.
	SetVoltage(v float64) error
	// Voltage returns the voltage setpoint in volts.
	Voltage() (float64, error)

	// SetCurrent sets the current setpoint in amperes.
	SetCurrent(a float64) error
	// Current returns the current setpoint in amperes.
	Current() (float64, error)

	// MeasuredVoltage returns the voltage at the output terminals.
	MeasuredVoltage() (float64, error)
	// MeasuredCurrent returns the current through the output terminals.
	MeasuredCurrent() (float64, error)

	// SetOutput enables or disables the DC output.
	SetOutput(on bool) error
	// Output reports whether the DC output is enabled.
	Output() (bool, error)

	// Close releases the link. It does not change the output state.
	Close() error
}

// Defaults for the bench supply.
const (
	DefaultPort = "/dev/ttyACM3"
	DefaultBaud = 115200
)
