// Package ftdi drives the FT2232H on the DAC38RF82EVM in asynchronous
// bit-bang mode. Each FTDI interface is one 8-bit gpio.Port: the pin byte
// goes out on the interface's bulk OUT endpoint, pin levels come back
// through the READ_PINS vendor request.
package ftdi

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
	"github.com/google/gousb"
)

const (
	DefaultVendorID  = 0x0403
	DefaultProductID = 0x6010

	sioReset      = 0x00
	sioSetBitmode = 0x0B
	sioReadPins   = 0x0C

	bitmodeReset   = 0x00
	bitmodeBitbang = 0x01

	requestOut = gousb.ControlVendor | gousb.ControlOut | gousb.ControlDevice
	requestIn  = gousb.ControlVendor | gousb.ControlIn | gousb.ControlDevice
)

var ErrNotFound = errors.New("FTDI device not found")

// endpoints of the FT2232H, by FTDI interface number (1 = A, 2 = B)
var outEndpoints = map[int]int{1: 0x02, 2: 0x04}

// controlTransfer is the part of *gousb.Device a port needs.
type controlTransfer interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Device is an opened FT2232H. It stays open until every port it handed
// out is closed.
type Device struct {
	ctx *gousb.Context
	dev *gousb.Device
	cfg *gousb.Config

	mu   sync.Mutex
	open int
}

// Open finds the adapter by vendor and product ID and detaches any kernel
// driver bound to it.
func Open(vid, pid uint16) (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", ErrNotFound, vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("auto detach: %w", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("select configuration: %w", err)
	}
	return &Device{ctx: ctx, dev: dev, cfg: cfg}, nil
}

// Port claims FTDI interface index (1 = A, 2 = B), resets it and enters
// asynchronous bit-bang mode with every pin an output.
func (d *Device) Port(index int) (*Port, error) {
	ep, ok := outEndpoints[index]
	if !ok {
		return nil, fmt.Errorf("invalid FTDI interface: %d", index)
	}
	intf, err := d.cfg.Interface(index-1, 0)
	if err != nil {
		return nil, fmt.Errorf("claim interface %d: %w", index, err)
	}
	out, err := intf.OutEndpoint(ep)
	if err != nil {
		intf.Close()
		return nil, fmt.Errorf("interface %d OUT endpoint: %w", index, err)
	}

	p := newPort(d.dev, out, uint16(index))
	p.release = func() error {
		intf.Close()
		return d.release()
	}
	if err := p.init(); err != nil {
		intf.Close()
		return nil, err
	}

	d.mu.Lock()
	d.open++
	d.mu.Unlock()
	return p, nil
}

func (d *Device) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open--
	if d.open > 0 {
		return nil
	}
	return d.Close()
}

// Close releases the USB handles. Ports must not be used afterwards.
func (d *Device) Close() error {
	var errs []error
	if err := d.cfg.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.dev.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.ctx.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Port is one FTDI interface in bit-bang mode.
type Port struct {
	ctrl    controlTransfer
	out     io.Writer
	index   uint16
	release func() error

	mu        sync.Mutex
	direction byte
	closed    bool
}

var _ gpio.Port = (*Port)(nil)

func newPort(ctrl controlTransfer, out io.Writer, index uint16) *Port {
	return &Port{ctrl: ctrl, out: out, index: index, direction: 0xFF}
}

func bitmode(mode, direction byte) uint16 {
	return uint16(mode)<<8 | uint16(direction)
}

func (p *Port) init() error {
	if _, err := p.ctrl.Control(requestOut, sioReset, 0, p.index, nil); err != nil {
		return fmt.Errorf("reset interface %d: %w", p.index, err)
	}
	if _, err := p.ctrl.Control(requestOut, sioSetBitmode, bitmode(bitmodeReset, 0), p.index, nil); err != nil {
		return fmt.Errorf("leave bitmode on interface %d: %w", p.index, err)
	}
	return p.setBitmode(p.direction)
}

func (p *Port) setBitmode(direction byte) error {
	if _, err := p.ctrl.Control(requestOut, sioSetBitmode, bitmode(bitmodeBitbang, direction), p.index, nil); err != nil {
		return fmt.Errorf("set bitmode 0x%02X on interface %d: %w", direction, p.index, err)
	}
	return nil
}

func (p *Port) Write(value byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	n, err := p.out.Write([]byte{value})
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("short write on interface %d", p.index)
	}
	return nil
}

func (p *Port) Read() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, gpio.ErrPortClosed
	}
	buf := make([]byte, 1)
	n, err := p.ctrl.Control(requestIn, sioReadPins, 0, p.index, buf)
	if err != nil {
		return 0, fmt.Errorf("read pins on interface %d: %w", p.index, err)
	}
	if n != 1 {
		return 0, fmt.Errorf("read pins on interface %d: got %d bytes", p.index, n)
	}
	return buf[0], nil
}

// SetDirection re-enters bit-bang mode with the merged direction byte.
// The output latch keeps its value across the mode change.
func (p *Port) SetDirection(mask, outputs byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	next := p.direction&^mask | outputs&mask
	if next == p.direction {
		return nil
	}
	if err := p.setBitmode(next); err != nil {
		return err
	}
	p.direction = next
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	p.closed = true

	_, err := p.ctrl.Control(requestOut, sioSetBitmode, bitmode(bitmodeReset, 0), p.index, nil)
	if p.release != nil {
		err = errors.Join(err, p.release())
	}
	return err
}
