//go:build !linux

package sensor

import "errors"

// Bus is not available on non-Linux platforms.
type Bus struct{}

// OpenBus returns an error on non-Linux platforms.
func OpenBus(path string) (*Bus, error) {
	return nil, errors.New("i2c: not supported on this platform (requires Linux)")
}

// Tx is not implemented on non-Linux platforms.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	return errors.New("i2c: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *Bus) Close() error { return nil }
