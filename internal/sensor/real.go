package sensor

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/drivers/shtc3"
)

// ErrCRC is returned when a measurement frame fails its checksum.
var ErrCRC = errors.New("shtc3: crc mismatch")

// transferer is the subset of drivers.I2C the reader needs.
type transferer interface {
	Tx(addr uint16, w, r []byte) error
}

// recordingBus keeps the first transfer error and the last read frame.
// The shtc3 driver drops both.
type recordingBus struct {
	bus   transferer
	err   error
	frame []byte
}

func (b *recordingBus) Tx(addr uint16, w, r []byte) error {
	err := b.bus.Tx(addr, w, r)
	if err != nil && b.err == nil {
		b.err = err
	}
	if len(r) > 0 {
		b.frame = append(b.frame[:0], r...)
	}
	return err
}

func (b *recordingBus) reset() {
	b.err = nil
	b.frame = b.frame[:0]
}

// RealReader reads a Sensirion SHTC3 on a Linux I²C bus.
type RealReader struct {
	mu  sync.Mutex
	bus *Bus
	rec *recordingBus
	dev shtc3.Device
}

// NewRealReader opens busPath and binds the SHTC3 driver to it.
func NewRealReader(busPath string) (*RealReader, error) {
	bus, err := OpenBus(busPath)
	if err != nil {
		return nil, err
	}
	r := newRealReader(bus)
	r.bus = bus

	// Probe once so a missing sensor fails at startup, not on the first tick.
	if _, err := r.Read(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("probe shtc3 on %s: %w", busPath, err)
	}
	return r, nil
}

func newRealReader(tx transferer) *RealReader {
	rec := &recordingBus{bus: tx}
	return &RealReader{rec: rec, dev: shtc3.New(rec)}
}

// Read wakes the sensor, takes one measurement and puts it back to sleep.
func (r *RealReader) Read() (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rec.reset()
	r.dev.WakeUp()
	if err := r.rec.err; err != nil {
		return Reading{}, fmt.Errorf("shtc3 wake: %w", err)
	}
	defer r.dev.Sleep()

	milliC, rhx100, err := r.dev.ReadTemperatureHumidity()
	if err == nil {
		err = r.rec.err
	}
	if err != nil {
		return Reading{}, fmt.Errorf("shtc3 read: %w", err)
	}
	if err := checkFrame(r.rec.frame); err != nil {
		return Reading{}, err
	}
	return Reading{
		TemperatureC: float64(milliC) / 1000,
		HumidityRH:   float64(rhx100) / 100,
	}, nil
}

// Close releases the bus.
func (r *RealReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bus.Close()
}

// checkFrame verifies both words of a 6-byte measurement frame:
// two data bytes followed by their CRC, temperature first.
func checkFrame(frame []byte) error {
	if len(frame) != 6 {
		return fmt.Errorf("shtc3: short frame (%d bytes)", len(frame))
	}
	if crc8(frame[0:2]) != frame[2] {
		return fmt.Errorf("temperature word: %w", ErrCRC)
	}
	if crc8(frame[3:5]) != frame[5] {
		return fmt.Errorf("humidity word: %w", ErrCRC)
	}
	return nil
}

// crc8 is the Sensirion checksum: polynomial 0x31, init 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
