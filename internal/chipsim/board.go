// Package chipsim emulates the far end of the DAC38RF82EVM serial buses:
// an LMK04828 and a DAC38RF8x sharing one GPIO port, plus the converter
// reset line on a second port. It decodes the frames a host bit-bangs
// onto the port and answers reads on the sample pins, so the whole
// driver stack can run without hardware.
package chipsim

import (
	"sort"
	"sync"

	"github.com/KevinKickass/OpenSynthCore/internal/bitbang"
	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
	"github.com/KevinKickass/OpenSynthCore/internal/regmap"
)

const (
	BusClock     = "lmk"
	BusConverter = "dac"
)

// Config is the wiring the simulated chips listen on.
type Config struct {
	ClockPins     bitbang.Pins
	ConverterPins bitbang.Pins
	ResetMask     byte
	PageRegister  uint32
}

func DefaultConfig() Config {
	return Config{
		ClockPins:     bitbang.DefaultClockPins,
		ConverterPins: bitbang.DefaultConverterPins,
		ResetMask:     0x20,
		PageRegister:  regmap.DefaultPageRegister,
	}
}

// Write is one register write as the chip latched it. Converter addresses
// carry the page register value in bits 8 and up, so a write through a
// combined page shows as e.g. 0x0328.
type Write struct {
	Bus     string
	Address uint32
	Value   uint32
}

// Board implements gpio.Port for the shared bus port. ResetPort returns
// the second port.
type Board struct {
	mu sync.Mutex

	cfg Config

	out    byte
	dir    byte
	closed bool

	lmk  *decoder
	dac  *decoder
	page uint32

	clockRegs     map[uint32]uint32
	converterRegs map[uint32]uint32
	readOnly      map[uint32]bool
	selfClearing  map[uint32]uint32

	log        []Write
	violations int
	resets     int
	reset      *resetPort
}

var _ gpio.Port = (*Board)(nil)

func NewBoard(cfg Config) *Board {
	b := &Board{
		cfg:           cfg,
		out:           cfg.ClockPins.Select | cfg.ConverterPins.Select,
		dir:           0xFF,
		clockRegs:     make(map[uint32]uint32),
		converterRegs: make(map[uint32]uint32),
		readOnly:      make(map[uint32]bool),
		selfClearing:  make(map[uint32]uint32),
	}
	b.lmk = &decoder{
		pins:      cfg.ClockPins,
		cmdBits:   16,
		frameBits: 24,
		respBits:  8,
		onRead:    b.readClock,
		onWrite:   b.writeClock,
	}
	b.dac = &decoder{
		pins:      cfg.ConverterPins,
		cmdBits:   8,
		frameBits: 24,
		respBits:  16,
		onRead:    b.readConverter,
		onWrite:   b.writeConverter,
	}
	b.reset = &resetPort{board: b, level: cfg.ResetMask}
	return b
}

func (b *Board) Write(value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpio.ErrPortClosed
	}
	prev := b.out
	b.out = value
	for _, d := range []*decoder{b.lmk, b.dac} {
		if d.step(prev, value) {
			b.violations++
		}
	}
	return nil
}

// Read returns output pins at their driven level and input pins at the
// level a responding chip puts on them.
func (b *Board) Read() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, gpio.ErrPortClosed
	}
	v := b.out & b.dir
	for _, d := range []*decoder{b.lmk, b.dac} {
		if d.driving && b.dir&d.pins.Sample == 0 && d.level {
			v |= d.pins.Sample
		}
	}
	return v, nil
}

func (b *Board) SetDirection(mask, outputs byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpio.ErrPortClosed
	}
	b.dir = b.dir&^mask | outputs&mask
	return nil
}

func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return gpio.ErrPortClosed
	}
	b.closed = true
	return nil
}

// ResetPort is the port carrying the active-low converter reset line.
// Driving the line low clears every converter register and the page.
func (b *Board) ResetPort() gpio.Port {
	return b.reset
}

// SetReadOnly makes writes to a clock-chip register ignored, so it reads
// back whatever it held before.
func (b *Board) SetReadOnly(addr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly[addr] = true
}

// SetSelfClearing makes the bits in mask of a converter register drop back
// to zero right after they are written, like a reset strobe.
func (b *Board) SetSelfClearing(addr, mask uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selfClearing[addr] = mask
}

func (b *Board) Clock(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clockRegs[addr]
}

// Converter returns a converter register by single-page address.
func (b *Board) Converter(addr uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.converterRegs[addr]
}

func (b *Board) SetClock(addr, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clockRegs[addr] = value
}

func (b *Board) SetConverter(addr, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.converterRegs[addr] = value
}

// Page is the value last latched in the page-select register.
func (b *Board) Page() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

// Writes returns every register write so far, in order.
func (b *Board) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.log))
	copy(out, b.log)
	return out
}

func (b *Board) ClearLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Violations counts rising clock edges that moved the data pin in the same
// port write.
func (b *Board) Violations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.violations
}

func (b *Board) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// ConverterRegisters returns the populated single-page converter addresses
// in ascending order.
func (b *Board) ConverterRegisters() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	addrs := make([]uint32, 0, len(b.converterRegs))
	for a := range b.converterRegs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

func (b *Board) readClock(cmd uint32) uint32 {
	return b.clockRegs[cmd&0x1FFF]
}

func (b *Board) writeClock(frame uint32) {
	addr, value := frame>>8&0x1FFF, frame&0xFF
	b.log = append(b.log, Write{Bus: BusClock, Address: addr, Value: value})
	if b.readOnly[addr] {
		return
	}
	b.clockRegs[addr] = value
}

func (b *Board) readConverter(cmd uint32) uint32 {
	offset := cmd & 0x7F
	if offset == b.cfg.PageRegister {
		return b.page
	}
	for bit := uint32(1); bit <= 0x4; bit <<= 1 {
		if b.page&bit != 0 {
			return b.converterRegs[bit<<8|offset]
		}
	}
	return b.converterRegs[offset]
}

func (b *Board) writeConverter(frame uint32) {
	offset, value := frame>>16&0x7F, frame&0xFFFF
	if offset == b.cfg.PageRegister {
		b.page = value
		b.log = append(b.log, Write{Bus: BusConverter, Address: offset, Value: value})
		return
	}
	b.log = append(b.log, Write{Bus: BusConverter, Address: b.page<<8 | offset, Value: value})

	if b.page == 0 {
		b.store(offset, value)
		return
	}
	for bit := uint32(1); bit <= 0x4; bit <<= 1 {
		if b.page&bit != 0 {
			b.store(bit<<8|offset, value)
		}
	}
}

func (b *Board) store(addr, value uint32) {
	b.converterRegs[addr] = value &^ b.selfClearing[addr]
}

type resetPort struct {
	board  *Board
	level  byte
	closed bool
}

func (r *resetPort) Write(value byte) error {
	b := r.board
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return gpio.ErrPortClosed
	}
	mask := b.cfg.ResetMask
	if r.level&mask != 0 && value&mask == 0 {
		b.converterRegs = make(map[uint32]uint32)
		b.page = 0
		b.resets++
	}
	r.level = value
	return nil
}

func (r *resetPort) Read() (byte, error) {
	r.board.mu.Lock()
	defer r.board.mu.Unlock()

	if r.closed {
		return 0, gpio.ErrPortClosed
	}
	return r.level, nil
}

func (r *resetPort) SetDirection(mask, outputs byte) error {
	r.board.mu.Lock()
	defer r.board.mu.Unlock()

	if r.closed {
		return gpio.ErrPortClosed
	}
	return nil
}

func (r *resetPort) Close() error {
	r.board.mu.Lock()
	defer r.board.mu.Unlock()

	if r.closed {
		return gpio.ErrPortClosed
	}
	r.closed = true
	return nil
}
