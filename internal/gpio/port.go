package gpio

import (
	"errors"
	"fmt"
)

// ErrPortClosed is returned by ports after Close.
var ErrPortClosed = errors.New("port closed")

// Port is an 8-bit general purpose I/O port on an adapter.
// A bit set in the direction byte drives the pin, a cleared bit makes it readable.
type Port interface {
	// Write drives the output register.
	Write(value byte) error
	// Read returns a snapshot of the pin levels.
	Read() (byte, error)
	// SetDirection changes the direction of the pins in mask; outputs
	// holds the new direction for those pins.
	SetDirection(mask, outputs byte) error
	Close() error
}

// Register is the in-memory image of a port's output register.
// Bit updates are read-modify-write and only reach the pins on Flush.
type Register struct {
	port  Port
	state byte
}

func NewRegister(port Port, initial byte) *Register {
	return &Register{port: port, state: initial}
}

// Set clears the bits in mask and sets them again if on is true.
// Bits outside mask are preserved.
func (r *Register) Set(mask byte, on bool) {
	r.state &^= mask
	if on {
		r.state |= mask
	}
}

// Flush commits the register image to the port.
func (r *Register) Flush() error {
	if err := r.port.Write(r.state); err != nil {
		return fmt.Errorf("port write 0x%02X: %w", r.state, err)
	}
	return nil
}

// Sample reads the pins and reports whether any bit in mask is high.
func (r *Register) Sample(mask byte) (bool, error) {
	v, err := r.port.Read()
	if err != nil {
		return false, fmt.Errorf("port read: %w", err)
	}
	return v&mask != 0, nil
}

func (r *Register) SetDirection(mask, outputs byte) error {
	if err := r.port.SetDirection(mask, outputs); err != nil {
		return fmt.Errorf("port direction 0x%02X/0x%02X: %w", mask, outputs, err)
	}
	return nil
}

// State returns the register image, flushed or not.
func (r *Register) State() byte {
	return r.state
}

func (r *Register) Close() error {
	return r.port.Close()
}
