// Package interlock drives the hardware safety relay in series with the
// Peltier supply. The relay is engaged only while the control loop is ON, so
// a crashed process or a stuck supply still leaves the Peltiers unpowered.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package interlock

// Line drives the interlock relay.
type Line interface {
	// Set engages (true) or releases (false) the relay.
	Set(engaged bool) error

	// Close releases the relay and the GPIO resources.
	Close() error
}

// Defaults (BCM numbering on gpiochip0).
const (
	DefaultChip = "gpiochip0"
	DefaultLine = 21
)

// Nop is used when no relay is fitted.
type Nop struct{}

func (Nop) Set(bool) error { return nil }
func (Nop) Close() error   { return nil }
