// Package sensor reads the bench temperature/humidity sensor.
// The real implementation talks to a Sensirion SHTC3 over Linux I²C.
// The fake implementation allows testing without hardware.
package sensor

// Reading is one temperature/humidity sample.
type Reading struct {
	TemperatureC float64 // °C
	HumidityRH   float64 // %RH
}

// Reader reads the sensor.
//
// Implementations must be safe for concurrent use: the control loop and the
// safety watchdog read the same sensor from different goroutines without
// holding the controller lock.
type Reader interface {
	// Read returns the current temperature and relative humidity.
	Read() (Reading, error)

	// Close releases the underlying bus.
	Close() error
}

// Defaults for the bench sensor.
const (
	DefaultBus     = "/dev/i2c-1"
	DefaultAddress = 0x70 // SHTC3 fixed address
)
