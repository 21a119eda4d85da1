// Package serial opens the serial port that carries the step link to a bridge
// board.
package serial

import (
	"io"

	"github.com/pkg/errors"
)

// Port is a serial port. Implementations: NativePort over a real device and
// MemPort for tests and dry runs.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet transmitted or read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the step link defaults for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}

func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial device is required")
	}
	if c.Baud <= 0 {
		return errors.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.ReadTimeout < 0 {
		return errors.Errorf("invalid read timeout %d ms", c.ReadTimeout)
	}
	return nil
}
