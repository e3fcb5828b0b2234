//go:build linux

package sensor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Minimal Linux I²C bus backed by /dev/i2c-*.
//
// I2C_RDWR sends a write and a read as one combined transfer. The SHTC3
// measure command relies on this: the sensor holds the clock low until the
// conversion finishes, then returns the frame in the same transfer.

const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened I²C bus. It satisfies the tinygo drivers.I2C interface.
// Not safe for concurrent transfers; RealReader serializes access.
type Bus struct {
	f    *os.File
	path string
}

// OpenBus opens an I²C character device such as /dev/i2c-1.
func OpenBus(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

// Tx writes w then reads into r at the 7-bit address addr.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if b == nil || b.f == nil {
		return errors.New("i2c bus is closed")
	}
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("invalid i2c addr 0x%X", addr)
	}

	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, b.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c %s addr 0x%02X: %w", b.path, addr, errno)
	}
	return nil
}

// Close closes the device file.
func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}
