// Package pid implements the feedback law that turns a temperature error into
// a Peltier current.
package pid

import (
	"time"

	"golang.org/x/exp/constraints"
)

// Gains are the proportional, integral and derivative coefficients.
// Negative gains are normal here: a measurement above the setpoint must
// produce a positive (cooling) current.
type Gains struct {
	Kp, Ki, Kd float64
}

// Controller is a positional PID with output clamping.
//
// The setpoint is passed on every Step so it can be retuned live. Internal
// state is only cleared at construction (or an explicit Reset); a setpoint
// change is not bumpless.
//
// Not safe for concurrent use.
type Controller struct {
	gains  Gains
	outMin float64
	outMax float64

	integral  float64
	prevError float64
	havePrev  bool
}

// New creates a controller whose output is clamped to [outMin, outMax].
func New(g Gains, outMin, outMax float64) *Controller {
	if outMax < outMin {
		outMin, outMax = outMax, outMin
	}
	return &Controller{gains: g, outMin: outMin, outMax: outMax}
}

// Gains returns the fixed gains.
func (p *Controller) Gains() Gains { return p.gains }

// Limits returns the output limits.
func (p *Controller) Limits() (min, max float64) { return p.outMin, p.outMax }

// Reset clears the integral and derivative memory.
func (p *Controller) Reset() {
	p.integral = 0
	p.prevError = 0
	p.havePrev = false
}

// Step advances the controller by dt and returns the clamped output.
func (p *Controller) Step(setpoint, measurement float64, dt time.Duration) float64 {
	if dt <= 0 {
		// No time => no update.
		return clamp(0, p.outMin, p.outMax)
	}
	sec := dt.Seconds()

	err := setpoint - measurement
	proportional := p.gains.Kp * err

	// The accumulator is held inside the output range so a long saturation
	// does not wind it up.
	p.integral = clamp(p.integral+p.gains.Ki*err*sec, p.outMin, p.outMax)

	derivative := 0.0
	if p.havePrev {
		derivative = p.gains.Kd * (err - p.prevError) / sec
	}
	p.prevError = err
	p.havePrev = true

	return clamp(proportional+p.integral+derivative, p.outMin, p.outMax)
}

// Integral exposes the accumulator, mostly for tests and diagnostics.
func (p *Controller) Integral() float64 { return p.integral }

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
