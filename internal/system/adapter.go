package system

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/chipsim"
	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
	"github.com/KevinKickass/OpenSynthCore/internal/gpio/ftdi"
	"github.com/KevinKickass/OpenSynthCore/internal/modbus"
	"github.com/KevinKickass/OpenSynthCore/internal/profile"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// adapter is the pair of GPIO ports the synthesizer is wired to.
type adapter struct {
	kind  string
	bus   gpio.Port
	reset gpio.Port

	// sim only
	board *chipsim.Board
}

// OpenDevice opens the configured adapter and wraps it in a synthesizer
// controller for profile p. board is non-nil only for the sim adapter.
func OpenDevice(ctx context.Context, cfg config.AdapterConfig, p *types.BoardProfile, logger *zap.Logger) (device *synth.Controller, board *chipsim.Board, err error) {
	synthCfg, err := profile.SynthConfig(p)
	if err != nil {
		return nil, nil, err
	}

	ad, err := openAdapter(ctx, cfg, p, logger)
	if err != nil {
		return nil, nil, err
	}

	device, err = synth.New(ad.bus, ad.reset, synthCfg, logger)
	if err != nil {
		ad.Close()
		return nil, nil, err
	}
	return device, ad.board, nil
}

func (a *adapter) Close() error {
	errBus := a.bus.Close()
	errReset := a.reset.Close()
	if errBus != nil {
		return errBus
	}
	return errReset
}

// openAdapter opens the configured GPIO adapter. USB enumeration and the
// coupler connection are retried until cfg.OpenTimeout.
func openAdapter(ctx context.Context, cfg config.AdapterConfig, p *types.BoardProfile, logger *zap.Logger) (*adapter, error) {
	switch cfg.Kind {
	case config.AdapterSim:
		board := chipsim.NewBoard(profile.SimConfig(p))
		logger.Warn("Using simulated board, no hardware is driven")
		return &adapter{kind: cfg.Kind, bus: board, reset: board.ResetPort(), board: board}, nil

	case config.AdapterFTDI:
		return openFTDI(ctx, cfg, logger)

	case config.AdapterModbus:
		return openModbus(ctx, cfg, logger)

	default:
		return nil, fmt.Errorf("unknown adapter kind: %q", cfg.Kind)
	}
}

func openFTDI(ctx context.Context, cfg config.AdapterConfig, logger *zap.Logger) (*adapter, error) {
	var dev *ftdi.Device
	err := retryOpen(ctx, cfg.OpenTimeout, logger, "ftdi", func() error {
		d, err := ftdi.Open(cfg.FTDI.VendorID, cfg.FTDI.ProductID)
		if err != nil {
			return err
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	bus, err := dev.Port(cfg.FTDI.BusInterface)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("bus interface: %w", err)
	}
	reset, err := dev.Port(cfg.FTDI.ResetInterface)
	if err != nil {
		// closing the last port closes the device
		bus.Close()
		return nil, fmt.Errorf("reset interface: %w", err)
	}

	logger.Info("FTDI adapter opened",
		zap.Uint16("vendor_id", cfg.FTDI.VendorID),
		zap.Uint16("product_id", cfg.FTDI.ProductID),
		zap.Int("bus_interface", cfg.FTDI.BusInterface),
		zap.Int("reset_interface", cfg.FTDI.ResetInterface))
	return &adapter{kind: cfg.Kind, bus: bus, reset: reset}, nil
}

func openModbus(ctx context.Context, cfg config.AdapterConfig, logger *zap.Logger) (*adapter, error) {
	client := modbus.NewClient(cfg.Modbus.Address, cfg.Modbus.Timeout)
	err := retryOpen(ctx, cfg.OpenTimeout, logger, "modbus", func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		return nil, err
	}

	coupler := modbus.NewCoupler(client, cfg.Modbus.UnitID, cfg.Modbus.Timeout)
	bus, err := coupler.Port(ctx, cfg.Modbus.BusPort)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("bus port: %w", err)
	}
	reset, err := coupler.Port(ctx, cfg.Modbus.ResetPort)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("reset port: %w", err)
	}

	logger.Info("Modbus coupler connected",
		zap.String("address", cfg.Modbus.Address),
		zap.Uint8("unit_id", cfg.Modbus.UnitID))
	return &adapter{kind: cfg.Kind, bus: bus, reset: reset}, nil
}

func retryOpen(ctx context.Context, timeout time.Duration, logger *zap.Logger, what string, op func() error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     250 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock}

	notify := func(err error, next time.Duration) {
		logger.Warn("Adapter not available, retrying",
			zap.String("adapter", what),
			zap.Duration("retry_in", next),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to open %s adapter: %w", what, err)
	}
	return nil
}
