package bitbang

import (
	"fmt"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
)

// ClockBus talks to the LMK04828 clock distribution chip. Its register
// space is flat: 13-bit addresses, 8-bit data.
type ClockBus struct {
	reg  *gpio.Register
	pins Pins
}

func NewClockBus(reg *gpio.Register, pins Pins) *ClockBus {
	return &ClockBus{reg: reg, pins: pins}
}

// Write sends a 24-bit write frame with chip select held low.
func (b *ClockBus) Write(addr, data uint32) error {
	frame, err := clockWriteFrame(addr, data)
	if err != nil {
		return err
	}

	if err := b.reg.SetDirection(0xFF, 0xFF); err != nil {
		return err
	}

	b.reg.Set(b.pins.Clock, false)
	b.reg.Set(b.pins.Select, false)
	if err := b.reg.Flush(); err != nil {
		return fmt.Errorf("clock write 0x%04X: %w", addr, err)
	}

	if err := shiftOut(b.reg, b.pins, frame, clockWriteBits); err != nil {
		return fmt.Errorf("clock write 0x%04X: %w", addr, err)
	}

	b.reg.Set(b.pins.Clock, true)
	b.reg.Set(b.pins.Select, true)
	if err := b.reg.Flush(); err != nil {
		return fmt.Errorf("clock write 0x%04X: %w", addr, err)
	}
	return nil
}

// Read sends the 16-bit command, turns the data pin around and clocks in
// eight response bits, MSB first, sampling after each rising edge.
func (b *ClockBus) Read(addr uint32) (uint32, error) {
	frame, err := clockReadFrame(addr)
	if err != nil {
		return 0, err
	}

	data, err := b.read(frame)
	if err != nil {
		return 0, fmt.Errorf("clock read 0x%04X: %w", addr, err)
	}
	return data, nil
}

func (b *ClockBus) read(frame uint32) (uint32, error) {
	p := b.pins

	b.reg.Set(p.Clock, false)
	b.reg.Set(p.Select, false)
	if err := b.reg.Flush(); err != nil {
		return 0, err
	}

	if err := shiftOut(b.reg, p, frame, clockCommandBits); err != nil {
		return 0, err
	}

	if err := b.reg.SetDirection(0xFF, 0xFF&^p.Sample); err != nil {
		return 0, err
	}
	b.reg.Set(p.Sample, false)
	if err := pulse(b.reg, p.Clock); err != nil {
		return 0, err
	}

	var data uint32
	for i := clockDataBits - 1; i >= 0; i-- {
		bit, err := b.reg.Sample(p.Sample)
		if err != nil {
			return 0, err
		}
		if bit {
			data |= 1 << uint(i)
		}
		if err := pulse(b.reg, p.Clock); err != nil {
			return 0, err
		}
	}

	b.reg.Set(p.Clock, true)
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
