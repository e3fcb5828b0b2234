// Package errcode defines the error taxonomy shared by the controller and its
// transports.
package errcode

import "errors"

// Code is a stable, caller-facing error identifier. It implements error so a
// bare Code can be returned and matched with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	OK Code = "ok"

	// Validation: a caller-supplied value was rejected. No state changed.
	Validation Code = "validation"

	// HardwareIO: a sensor or actuator call failed.
	HardwareIO Code = "hardware_io"

	// SafetyViolation: the watchdog found the temperature outside the bounds.
	SafetyViolation Code = "safety_violation"

	// Closed: the controller has been shut down.
	Closed Code = "closed"

	Error Code = "error" // generic fallback
)

// E keeps the operation and cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is makes errors.Is(err, errcode.Validation) match an *E carrying that code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Invalid builds a validation error for op.
func Invalid(op, msg string) error {
	return &E{C: Validation, Op: op, Msg: msg}
}

// Hardware wraps a port failure for op. A nil err yields nil.
func Hardware(op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: HardwareIO, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}
