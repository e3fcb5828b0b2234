package psu

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Open connects to the supply at port and puts it in remote mode.
func Open(port string, baud int, timeout time.Duration) (*SCPISupply, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open psu serial %s: %w", port, err)
	}

	// Short per-read timeout; SCPISupply enforces the per-query deadline.
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("psu serial read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("psu serial flush: %w", err)
	}

	s := NewSCPISupply(p, timeout)
	if err := s.Remote(); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}
