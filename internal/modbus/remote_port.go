package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
)

// PortRegisters maps one 8-bit port of a remote I/O coupler onto Modbus
// registers. Only the low byte of each register is used.
type PortRegisters struct {
	Output    uint16 `mapstructure:"output"`    // holding register, pin levels
	Input     uint16 `mapstructure:"input"`     // input register, pin snapshot
	Direction uint16 `mapstructure:"direction"` // holding register, 1 = output
}

// Coupler shares one Modbus connection between the ports it hands out and
// closes it when the last port is closed.
type Coupler struct {
	client  *Client
	unitID  uint8
	timeout time.Duration

	mu   sync.Mutex
	open int
}

func NewCoupler(client *Client, unitID uint8, timeout time.Duration) *Coupler {
	return &Coupler{client: client, unitID: unitID, timeout: timeout}
}

// Port returns a gpio.Port on the given registers. All pins start as
// outputs and the direction register is written accordingly.
func (c *Coupler) Port(ctx context.Context, regs PortRegisters) (*RemotePort, error) {
	p := &RemotePort{coupler: c, regs: regs, direction: 0xFF}
	if err := c.client.WriteSingleRegister(ctx, c.unitID, regs.Direction, uint16(p.direction)); err != nil {
		return nil, fmt.Errorf("init direction register %d: %w", regs.Direction, err)
	}

	c.mu.Lock()
	c.open++
	c.mu.Unlock()
	return p, nil
}

func (c *Coupler) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open--
	if c.open > 0 {
		return nil
	}
	return c.client.Close()
}

// RemotePort is a gpio.Port on a remote I/O coupler. Each call is one
// Modbus transaction, so it is orders of magnitude slower than the FTDI
// adapter, but timing-insensitive buses do not care.
type RemotePort struct {
	coupler *Coupler
	regs    PortRegisters

	mu        sync.Mutex
	direction byte
	closed    bool
}

var _ gpio.Port = (*RemotePort)(nil)

func (p *RemotePort) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.coupler.timeout)
}

func (p *RemotePort) Write(value byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	ctx, cancel := p.opContext()
	defer cancel()
	return p.coupler.client.WriteSingleRegister(ctx, p.coupler.unitID, p.regs.Output, uint16(value))
}

func (p *RemotePort) Read() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, gpio.ErrPortClosed
	}
	ctx, cancel := p.opContext()
	defer cancel()
	regs, err := p.coupler.client.ReadInputRegisters(ctx, p.coupler.unitID, p.regs.Input, 1)
	if err != nil {
		return 0, err
	}
	if len(regs) != 1 {
		return 0, fmt.Errorf("expected 1 register, got %d", len(regs))
	}
	return byte(regs[0]), nil
}

func (p *RemotePort) SetDirection(mask, outputs byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	next := p.direction&^mask | outputs&mask
	if next == p.direction {
		return nil
	}

	ctx, cancel := p.opContext()
	defer cancel()
	if err := p.coupler.client.WriteSingleRegister(ctx, p.coupler.unitID, p.regs.Direction, uint16(next)); err != nil {
		return err
	}
	p.direction = next
	return nil
}

// Direction returns the cached direction byte.
func (p *RemotePort) Direction() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direction
}

func (p *RemotePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return gpio.ErrPortClosed
	}
	p.closed = true
	return p.coupler.release()
}
