// Package synth drives the DAC38RF82EVM as a two-channel DDS: bring-up of
// the LMK04828 and DAC38RF8x, and the frequency, phase and amplitude of
// each NCO channel.
//
// A Controller owns both GPIO ports and is not safe for concurrent use;
// callers serialize access (see package machine).
package synth

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSynthCore/internal/bitbang"
	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
	"github.com/KevinKickass/OpenSynthCore/internal/regconfig"
	"github.com/KevinKickass/OpenSynthCore/internal/regmap"
	"go.uber.org/zap"
)

// Config describes the board wiring.
type Config struct {
	SampleRateMHz float64
	ClockPins     bitbang.Pins
	ConverterPins bitbang.Pins
	// ResetMask is the active-low DAC reset line on the reset port.
	ResetMask    byte
	PageRegister uint32
}

// DefaultConfig is the DAC38RF82EVM wiring.
func DefaultConfig() Config {
	return Config{
		SampleRateMHz: DefaultSampleRateMHz,
		ClockPins:     bitbang.DefaultClockPins,
		ConverterPins: bitbang.DefaultConverterPins,
		ResetMask:     0x20,
		PageRegister:  regmap.DefaultPageRegister,
	}
}

func (c Config) Validate() error {
	if !finite(c.SampleRateMHz) || c.SampleRateMHz <= 0 {
		return fmt.Errorf("invalid sample rate: %v MHz", c.SampleRateMHz)
	}
	if err := c.ClockPins.Validate(); err != nil {
		return fmt.Errorf("clock pins: %w", err)
	}
	if err := c.ConverterPins.Validate(); err != nil {
		return fmt.Errorf("converter pins: %w", err)
	}
	if c.ClockPins.Mask()&c.ConverterPins.Mask() != 0 {
		return fmt.Errorf("clock and converter pins overlap: 0x%02X", c.ClockPins.Mask()&c.ConverterPins.Mask())
	}
	if c.ResetMask == 0 {
		return errors.New("reset mask is empty")
	}
	if c.PageRegister > 0x7F {
		return fmt.Errorf("page register 0x%X outside the 7-bit address space", c.PageRegister)
	}
	return nil
}

// registerBus is a read/write register space: the clock bus directly,
// the converter through its page map.
type registerBus interface {
	Write(addr, value uint32) error
	Read(addr uint32) (uint32, error)
}

type Controller struct {
	cfg    Config
	logger *zap.Logger

	bus   *gpio.Register
	reset *gpio.Register
	clock *bitbang.ClockBus
	dac   *regmap.PagedMap

	closed bool
}

// New takes ownership of both ports and drives the bus port to its idle
// state: clock-chip select and converter enable high, converter clock low.
func New(busPort, resetPort gpio.Port, cfg Config, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board config: %w", err)
	}

	bus := gpio.NewRegister(busPort, cfg.ClockPins.Select|cfg.ConverterPins.Select)
	if err := bus.Flush(); err != nil {
		return nil, fmt.Errorf("failed to idle bus port: %w", err)
	}

	return &Controller{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		reset:  gpio.NewRegister(resetPort, cfg.ResetMask),
		clock:  bitbang.NewClockBus(bus, cfg.ClockPins),
		dac:    regmap.New(bitbang.NewConverterBus(bus, cfg.ConverterPins), cfg.PageRegister),
	}, nil
}

func (c *Controller) SampleRateMHz() float64 {
	return c.cfg.SampleRateMHz
}

func (c *Controller) check() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Controller) busFor(chip Chip) (registerBus, error) {
	switch chip {
	case ChipClock:
		return c.clock, nil
	case ChipConverter:
		return c.dac, nil
	default:
		return nil, fmt.Errorf("unknown chip: %d", int(chip))
	}
}

// Reset pulses the DAC reset line idle, active, idle. The converter page
// is unknown afterwards.
func (c *Controller) Reset() error {
	if err := c.check(); err != nil {
		return err
	}

	for _, level := range []bool{true, false, true} {
		c.reset.Set(c.cfg.ResetMask, level)
		if err := c.reset.Flush(); err != nil {
			return fmt.Errorf("reset pulse: %w", err)
		}
	}
	c.dac.Invalidate()

	c.logger.Info("Converter reset")
	return nil
}

// Configure writes the clock-chip entries, then the converter entries,
// reading every register back right after writing it. The first mismatch
// aborts with a *VerifyError. Converter address 0 is a self-clearing
// strobe register and is never compared.
func (c *Controller) Configure(doc *regconfig.Document) error {
	if err := c.check(); err != nil {
		return err
	}

	if err := c.apply(ChipClock, doc.Clock, c.clock, nil); err != nil {
		return err
	}
	c.logger.Info("Clock chip configured", zap.Int("entries", len(doc.Clock)))

	exempt := func(addr uint32) bool { return addr == 0 }
	if err := c.apply(ChipConverter, doc.Converter, c.dac, exempt); err != nil {
		return err
	}
	c.logger.Info("Converter configured", zap.Int("entries", len(doc.Converter)))

	return nil
}

func (c *Controller) apply(chip Chip, entries []regconfig.Entry, bus registerBus, exempt func(uint32) bool) error {
	for i, e := range entries {
		if err := bus.Write(e.Address, e.Value); err != nil {
			return fmt.Errorf("%s entry %d: %w", chip, i, err)
		}
		got, err := bus.Read(e.Address)
		if err != nil {
			return fmt.Errorf("%s entry %d: %w", chip, i, err)
		}

		c.logger.Debug("Register written",
			zap.Stringer("chip", chip),
			zap.String("address", fmt.Sprintf("0x%04X", e.Address)),
			zap.String("set", fmt.Sprintf("0x%X", e.Value)),
			zap.String("read", fmt.Sprintf("0x%X", got)))

		if got != e.Value && (exempt == nil || !exempt(e.Address)) {
			return &VerifyError{Chip: chip, Index: i, Address: e.Address, Expected: e.Value, Actual: got}
		}
	}
	return nil
}

// BringUp replays BringUpSequence. There is no read-back.
func (c *Controller) BringUp() error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.replay(BringUpSequence); err != nil {
		return fmt.Errorf("bring-up: %w", err)
	}
	c.logger.Info("Bring-up sequence complete", zap.Int("steps", len(BringUpSequence)))
	return nil
}

// Resynchronize replays SyncSequence to realign both channels' phase
// reference. Call it after frequency changes when the relative phase of
// the channels matters.
func (c *Controller) Resynchronize() error {
	if err := c.check(); err != nil {
		return err
	}
	if err := c.replay(SyncSequence); err != nil {
		return fmt.Errorf("resynchronize: %w", err)
	}
	c.logger.Info("Channels resynchronized")
	return nil
}

func (c *Controller) replay(steps []Step) error {
	for i, s := range steps {
		bus, err := c.busFor(s.Chip)
		if err != nil {
			return err
		}
		if err := bus.Write(s.Address, s.Value); err != nil {
			return fmt.Errorf("step %d (%s 0x%04X): %w", i, s.Chip, s.Address, err)
		}
	}
	return nil
}

// WriteRegister writes one register. Converter addresses carry their page.
func (c *Controller) WriteRegister(chip Chip, addr, value uint32) error {
	if err := c.check(); err != nil {
		return err
	}
	bus, err := c.busFor(chip)
	if err != nil {
		return err
	}
	return bus.Write(addr, value)
}

func (c *Controller) ReadRegister(chip Chip, addr uint32) (uint32, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	bus, err := c.busFor(chip)
	if err != nil {
		return 0, err
	}
	return bus.Read(addr)
}

// SetFrequency programs the channel's 48-bit phase increment, clears the
// secondary path and triggers the update.
func (c *Controller) SetFrequency(ch Channel, freqMHz float64) error {
	if err := c.check(); err != nil {
		return err
	}
	word, err := FrequencyWord(freqMHz, c.cfg.SampleRateMHz)
	if err != nil {
		return err
	}

	words := SplitWord48(word)
	for i, w := range words {
		if err := c.writeChannel(ch, regFrequency+uint32(i), uint32(w)); err != nil {
			return err
		}
	}
	for i := uint32(0); i < 3; i++ {
		if err := c.writeChannel(ch, regFrequencyCD+i, 0); err != nil {
			return err
		}
	}
	if err := c.trigger(); err != nil {
		return err
	}

	c.logger.Info("NCO frequency set",
		zap.Stringer("channel", ch),
		zap.Float64("frequency_mhz", freqMHz),
		zap.Uint64("word", word))
	return nil
}

// SetPhase programs the channel's phase offset, clears the secondary path
// phase and triggers the update.
func (c *Controller) SetPhase(ch Channel, degrees float64) error {
	if err := c.check(); err != nil {
		return err
	}
	word, err := PhaseWord(degrees)
	if err != nil {
		return err
	}

	if err := c.writeChannel(ch, regPhase, uint32(word)); err != nil {
		return err
	}
	if err := c.writeChannel(ch, regPhaseCD, 0); err != nil {
		return err
	}
	if err := c.trigger(); err != nil {
		return err
	}

	c.logger.Info("NCO phase set",
		zap.Stringer("channel", ch),
		zap.Float64("degrees", degrees),
		zap.Uint16("word", word))
	return nil
}

// SetAmplitude enables the channel's gain stage at the given gain.
// The gain register takes effect without a trigger.
func (c *Controller) SetAmplitude(ch Channel, gain float64) error {
	if err := c.check(); err != nil {
		return err
	}
	word, err := AmplitudeWord(gain)
	if err != nil {
		return err
	}
	if gain > 1 {
		c.logger.Warn("Gain above unity, output may distort",
			zap.Stringer("channel", ch),
			zap.Float64("gain", gain))
	}

	if err := c.writeChannel(ch, regGain, uint32(word)); err != nil {
		return err
	}

	c.logger.Info("Channel amplitude set",
		zap.Stringer("channel", ch),
		zap.Float64("gain", gain),
		zap.Uint16("word", word))
	return nil
}

func (c *Controller) writeChannel(ch Channel, offset, value uint32) error {
	addr, err := ch.reg(offset)
	if err != nil {
		return err
	}
	if err := c.dac.Write(addr, value); err != nil {
		return fmt.Errorf("channel %s register 0x%04X: %w", ch, addr, err)
	}
	return nil
}

// trigger latches every staged NCO register on both channels at once.
// Issue it after a complete group of writes, never inside one.
func (c *Controller) trigger() error {
	for _, v := range []uint32{triggerBaseline, triggerBaseline | triggerStrobe, triggerBaseline} {
		if err := c.dac.Write(triggerRegister, v); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
	}
	return nil
}

// Close releases both ports. Every later call returns ErrClosed.
func (c *Controller) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true

	var errs []error
	if err := c.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus port: %w", err))
	}
	if err := c.reset.Close(); err != nil {
		errs = append(errs, fmt.Errorf("reset port: %w", err))
	}
	return errors.Join(errs...)
}
