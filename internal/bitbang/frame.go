// Package bitbang serializes the LMK04828 and DAC38RF8x serial frames onto
// a GPIO register, one flushed port write per externally visible edge.
//
// Both buses latch data on the rising clock edge. Every bit is presented
// with the clock low and clocked by a separate flush that raises the clock;
// data and clock never change in the same flush.
package bitbang

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
)

// ErrFieldOverflow is returned when an address or data value does not fit
// the frame field the chip defines for it.
var ErrFieldOverflow = errors.New("value does not fit frame field")

const (
	clockAddrBits     = 13
	clockDataBits     = 8
	clockWriteBits    = 24
	clockCommandBits  = 16
	converterAddrBits = 7
	converterDataBits = 16
	converterWrite    = 24
	converterCommand  = 8
)

// Pins assigns the roles of one bus to bits of the shared port.
type Pins struct {
	Clock   byte `json:"clock" yaml:"clock"`
	DataIn  byte `json:"data_in" yaml:"data_in"`
	DataOut byte `json:"data_out" yaml:"data_out"`
	Select  byte `json:"select" yaml:"select"`
	// Sample is the pin read back during the response phase.
	Sample byte `json:"sample" yaml:"sample"`
}

// DefaultClockPins is the LMK04828 wiring of the DAC38RF82EVM FTDI port B.
// The LMK answers on its 3-wire SDIO line, so Sample equals DataIn.
var DefaultClockPins = Pins{
	Clock:   0x10,
	DataIn:  0x20,
	DataOut: 0x40,
	Select:  0x80,
	Sample:  0x20,
}

// DefaultConverterPins is the DAC38RF8x wiring of the same port.
var DefaultConverterPins = Pins{
	Clock:   0x01,
	DataIn:  0x02,
	DataOut: 0x04,
	Select:  0x08,
	Sample:  0x04,
}

// Mask returns every pin of the bus.
func (p Pins) Mask() byte {
	return p.Clock | p.DataIn | p.DataOut | p.Select | p.Sample
}

// Validate checks that the roles are single, distinct bits.
func (p Pins) Validate() error {
	roles := []struct {
		name string
		bit  byte
	}{
		{"clock", p.Clock},
		{"data_in", p.DataIn},
		{"data_out", p.DataOut},
		{"select", p.Select},
	}
	var seen byte
	for _, r := range roles {
		if r.bit == 0 || r.bit&(r.bit-1) != 0 {
			return fmt.Errorf("pin %s: 0x%02X is not a single bit", r.name, r.bit)
		}
		if seen&r.bit != 0 {
			return fmt.Errorf("pin %s: 0x%02X assigned twice", r.name, r.bit)
		}
		seen |= r.bit
	}
	if p.Sample == 0 || p.Sample&(p.Sample-1) != 0 {
		return fmt.Errorf("pin sample: 0x%02X is not a single bit", p.Sample)
	}
	if p.Sample != p.DataIn && p.Sample != p.DataOut {
		return fmt.Errorf("pin sample: 0x%02X must be data_in or data_out", p.Sample)
	}
	return nil
}

func checkField(name string, v uint32, bits uint) error {
	if v>>bits != 0 {
		return fmt.Errorf("%w: %s 0x%X exceeds %d bits", ErrFieldOverflow, name, v, bits)
	}
	return nil
}

// [R/W=0][W1 W0=00][A12..A0][D7..D0]
func clockWriteFrame(addr, data uint32) (uint32, error) {
	if err := checkField("clock address", addr, clockAddrBits); err != nil {
		return 0, err
	}
	if err := checkField("clock data", data, clockDataBits); err != nil {
		return 0, err
	}
	return addr<<clockDataBits | data, nil
}

// [R/W=1][W1 W0=00][A12..A0]
func clockReadFrame(addr uint32) (uint32, error) {
	if err := checkField("clock address", addr, clockAddrBits); err != nil {
		return 0, err
	}
	return 1<<(clockCommandBits-1) | addr, nil
}

// [R/W=0][A6..A0][D15..D0]
func converterWriteFrame(offset, data uint32) (uint32, error) {
	if err := checkField("converter address", offset, converterAddrBits); err != nil {
		return 0, err
	}
	if err := checkField("converter data", data, converterDataBits); err != nil {
		return 0, err
	}
	return offset<<converterDataBits | data, nil
}

// [R/W=1][A6..A0]
func converterReadFrame(offset uint32) (uint32, error) {
	if err := checkField("converter address", offset, converterAddrBits); err != nil {
		return 0, err
	}
	return 1<<(converterCommand-1) | offset, nil
}

// shiftOut presents the low n bits of frame MSB first. For each bit the
// clock is dropped, the data pin settled, then the clock raised, each in
// its own flush.
func shiftOut(reg *gpio.Register, p Pins, frame uint32, n int) error {
	for i := n - 1; i >= 0; i-- {
		reg.Set(p.Clock, false)
		if err := reg.Flush(); err != nil {
			return err
		}
		reg.Set(p.DataIn, frame>>uint(i)&1 == 1)
		if err := reg.Flush(); err != nil {
			return err
		}
		reg.Set(p.Clock, true)
		if err := reg.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// pulse drives one low-high clock cycle.
func pulse(reg *gpio.Register, clock byte) error {
	reg.Set(clock, false)
	if err := reg.Flush(); err != nil {
		return err
	}
	reg.Set(clock, true)
	return reg.Flush()
}
