package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cause := errors.New("serial timeout")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", Closed, Closed},
		{"invalid", Invalid("set_setpoint", "out of range"), Validation},
		{"hardware", Hardware("start", cause), HardwareIO},
		{"wrapped hardware", fmt.Errorf("api: %w", Hardware("stop", cause)), HardwareIO},
		{"plain", cause, Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAndUnwrap(t *testing.T) {
	cause := errors.New("no ack")
	err := Hardware("read temperature", cause)

	if !errors.Is(err, HardwareIO) {
		t.Error("expected errors.Is(err, HardwareIO)")
	}
	if errors.Is(err, Validation) {
		t.Error("hardware error must not match Validation")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if got := err.Error(); got != "read temperature: hardware_io: no ack" {
		t.Errorf("Error(): got %q", got)
	}
}

func TestHardwareNil(t *testing.T) {
	if err := Hardware("op", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
