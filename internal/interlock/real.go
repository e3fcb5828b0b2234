//go:build linux

package interlock

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLine drives the relay through a GPIO output line.
type RealLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealLine requests offset on chipName as an output, initially released.
func NewRealLine(chipName string, offset int) (*RealLine, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	// Start released; the relay only closes once the loop turns ON.
	line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("climate-interlock"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request interlock line %d: %w", offset, err)
	}

	return &RealLine{chip: chip, line: line}, nil
}

// Set drives the line high to engage the relay, low to release it.
func (r *RealLine) Set(engaged bool) error {
	v := 0
	if engaged {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set interlock line: %w", err)
	}
	return nil
}

// Close releases the relay and then reconfigures the line as an input with
// pull-down so the relay stays open while the process is gone.
func (r *RealLine) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release interlock: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure interlock line: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close interlock line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
