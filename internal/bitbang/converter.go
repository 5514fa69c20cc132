package bitbang

import (
	"fmt"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
)

// ConverterBus talks to the DAC38RF8x. Addresses here are page-relative
// (7 bits); page selection is the caller's job, see package regmap.
type ConverterBus struct {
	reg  *gpio.Register
	pins Pins
}

func NewConverterBus(reg *gpio.Register, pins Pins) *ConverterBus {
	return &ConverterBus{reg: reg, pins: pins}
}

// Write sends a 24-bit write frame with the active-low enable held low.
func (b *ConverterBus) Write(offset, data uint32) error {
	frame, err := converterWriteFrame(offset, data)
	if err != nil {
		return err
	}
	if err := b.write(frame); err != nil {
		return fmt.Errorf("converter write 0x%02X: %w", offset, err)
	}
	return nil
}

func (b *ConverterBus) write(frame uint32) error {
	p := b.pins

	if err := b.reg.SetDirection(0xFF, 0xFF); err != nil {
		return err
	}

	b.reg.Set(p.Clock, false)
	if err := b.reg.Flush(); err != nil {
		return err
	}
	b.reg.Set(p.Select, false)
	if err := b.reg.Flush(); err != nil {
		return err
	}

	if err := shiftOut(b.reg, p, frame, converterWrite); err != nil {
		return err
	}

	b.reg.Set(p.Clock, false)
	b.reg.Set(p.Select, true)
	return b.reg.Flush()
}

// Read sends the 8-bit command, releases both data pins and clocks in
// sixteen response bits, MSB first.
func (b *ConverterBus) Read(offset uint32) (uint32, error) {
	frame, err := converterReadFrame(offset)
	if err != nil {
		return 0, err
	}
	data, err := b.read(frame)
	if err != nil {
		return 0, fmt.Errorf("converter read 0x%02X: %w", offset, err)
	}
	return data, nil
}

func (b *ConverterBus) read(frame uint32) (uint32, error) {
	p := b.pins

	b.reg.Set(p.Clock, false)
	if err := b.reg.Flush(); err != nil {
		return 0, err
	}
	b.reg.Set(p.Select, false)
	if err := b.reg.Flush(); err != nil {
		return 0, err
	}

	if err := shiftOut(b.reg, p, frame, converterCommand); err != nil {
		return 0, err
	}

	released := p.DataIn | p.DataOut
	if err := b.reg.SetDirection(0xFF, 0xFF&^released); err != nil {
		return 0, err
	}
	// input pins cannot hold a level; keep the image consistent
	b.reg.Set(released, false)

	var data uint32
	for i := converterDataBits - 1; i >= 0; i-- {
		if err := pulse(b.reg, p.Clock); err != nil {
			return 0, err
		}
		bit, err := b.reg.Sample(p.Sample)
		if err != nil {
			return 0, err
		}
		if bit {
			data |= 1 << uint(i)
		}
	}

	b.reg.Set(p.Clock, false)
	if err := b.reg.Flush(); err != nil {
		return 0, err
	}
	b.reg.Set(p.Select, true)
	if err := b.reg.Flush(); err != nil {
		return 0, err
	}

	if err := b.reg.SetDirection(0xFF, 0xFF); err != nil {
		return 0, err
	}
	return data, nil
}
