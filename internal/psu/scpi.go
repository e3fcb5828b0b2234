package psu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SCPI command set of the EA-PS series.
const (
	cmdRemote         = "SYST:LOCK ON"
	cmdLocal          = "SYST:LOCK OFF"
	cmdSetVoltage     = "VOLT %.3f"
	cmdVoltage        = "VOLT?"
	cmdSetCurrent     = "CURR %.3f"
	cmdCurrent        = "CURR?"
	cmdMeasureVoltage = "MEAS:VOLT?"
	cmdMeasureCurrent = "MEAS:CURR?"
	cmdOutputOn       = "OUTP ON"
	cmdOutputOff      = "OUTP OFF"
	cmdOutput         = "OUTP?"
)

// ErrTimeout is returned when the supply does not answer a query in time.
var ErrTimeout = errors.New("psu: response timeout")

// SCPISupply implements Supply on top of a line-oriented SCPI link.
type SCPISupply struct {
	mu      sync.Mutex
	rw      io.ReadWriteCloser
	timeout time.Duration
	buf     []byte
}

// NewSCPISupply wraps an open link. Reads from rw must return (0, nil) or an
// error once their own timeout expires so a mute device cannot hang a query.
func NewSCPISupply(rw io.ReadWriteCloser, timeout time.Duration) *SCPISupply {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &SCPISupply{rw: rw, timeout: timeout}
}

// Remote puts the supply under remote control, which EA units require before
// they accept setpoints.
func (s *SCPISupply) Remote() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(cmdRemote)
}

func (s *SCPISupply) SetVoltage(v float64) error {
	if v < 0 {
		return fmt.Errorf("psu: negative voltage %v", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(fmt.Sprintf(cmdSetVoltage, v))
}

func (s *SCPISupply) Voltage() (float64, error) {
	return s.queryFloat(cmdVoltage)
}

func (s *SCPISupply) SetCurrent(a float64) error {
	if a < 0 {
		return fmt.Errorf("psu: negative current %v", a)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(fmt.Sprintf(cmdSetCurrent, a))
}

func (s *SCPISupply) Current() (float64, error) {
	return s.queryFloat(cmdCurrent)
}

func (s *SCPISupply) MeasuredVoltage() (float64, error) {
	return s.queryFloat(cmdMeasureVoltage)
}

func (s *SCPISupply) MeasuredCurrent() (float64, error) {
	return s.queryFloat(cmdMeasureCurrent)
}

func (s *SCPISupply) SetOutput(on bool) error {
	cmd := cmdOutputOff
	if on {
		cmd = cmdOutputOn
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(cmd)
}

func (s *SCPISupply) Output() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.query(cmdOutput)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(resp) {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	default:
		return false, fmt.Errorf("psu: unexpected output state %q", resp)
	}
}

// Close hands the front panel back to the operator and closes the link.
func (s *SCPISupply) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lockErr := s.send(cmdLocal)
	if err := s.rw.Close(); err != nil {
		return fmt.Errorf("psu: close: %w", err)
	}
	return lockErr
}

func (s *SCPISupply) queryFloat(cmd string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.query(cmd)
	if err != nil {
		return 0, err
	}
	return parseQuantity(resp)
}

// send writes one command line. Caller holds s.mu.
func (s *SCPISupply) send(cmd string) error {
	if _, err := io.WriteString(s.rw, cmd+"\n"); err != nil {
		return fmt.Errorf("psu: write %q: %w", cmd, err)
	}
	return nil
}

// query writes cmd and returns the trimmed response line. Caller holds s.mu.
func (s *SCPISupply) query(cmd string) (string, error) {
	s.buf = s.buf[:0]
	if err := s.send(cmd); err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.timeout)
	var chunk [64]byte
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.buf[:i]))
			s.buf = s.buf[:0]
			return line, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w (%s)", ErrTimeout, cmd)
		}
		n, err := s.rw.Read(chunk[:])
		s.buf = append(s.buf, chunk[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("psu: read %q: %w", cmd, err)
		}
		if n == 0 && errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w (%s): link closed", ErrTimeout, cmd)
		}
	}
}

// parseQuantity parses responses such as "29.98 V", "1.50A" or "4.200".
func parseQuantity(resp string) (float64, error) {
	s := strings.TrimSpace(resp)
	s = strings.TrimRight(s, "VAWvaw ")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("psu: parse %q: %w", resp, err)
	}
	return v, nil
}
