package chipsim

import "github.com/KevinKickass/OpenSynthCore/internal/bitbang"

// decoder follows one chip's select, clock and data pins. Bits latch on
// the rising clock edge while select is low. Once cmdBits are in, a set
// MSB makes the frame a read and the chip presents one response bit per
// following rising edge; otherwise the write commits after frameBits.
type decoder struct {
	pins      bitbang.Pins
	cmdBits   int
	frameBits int
	respBits  int
	onRead    func(cmd uint32) uint32
	onWrite   func(frame uint32)

	active     bool
	done       bool
	shift      uint32
	n          int
	responding bool
	response   uint32
	left       int

	driving bool
	level   bool
}

// step applies one port transition and reports a setup violation.
func (d *decoder) step(prev, next byte) bool {
	p := d.pins
	wasSelected := prev&p.Select == 0
	selected := next&p.Select == 0

	switch {
	case !wasSelected && selected:
		d.begin()
	case wasSelected && !selected:
		d.end()
		return false
	}
	if !selected || !d.active {
		return false
	}
	if prev&p.Clock != 0 || next&p.Clock == 0 {
		return false
	}

	if d.responding {
		if d.left > 0 {
			d.left--
			d.level = d.response>>uint(d.left)&1 == 1
			d.driving = true
		} else {
			d.driving = false
		}
		return false
	}
	if d.done {
		return false
	}

	violation := (prev^next)&p.DataIn != 0
	d.shift = d.shift<<1 | uint32(next&p.DataIn/p.DataIn)
	d.n++

	switch {
	case d.n == d.cmdBits && d.shift>>uint(d.cmdBits-1)&1 == 1:
		d.responding = true
		d.response = d.onRead(d.shift)
		d.left = d.respBits
	case d.n == d.frameBits:
		d.onWrite(d.shift)
		d.done = true
	}
	return violation
}

func (d *decoder) begin() {
	*d = decoder{
		pins:      d.pins,
		cmdBits:   d.cmdBits,
		frameBits: d.frameBits,
		respBits:  d.respBits,
		onRead:    d.onRead,
		onWrite:   d.onWrite,
		active:    true,
	}
}

func (d *decoder) end() {
	d.active = false
	d.responding = false
	d.driving = false
}
