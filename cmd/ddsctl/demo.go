package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/KevinKickass/OpenSynthCore/internal/machine"
	"github.com/KevinKickass/OpenSynthCore/internal/profile"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/system"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"go.uber.org/zap"
)

// demoFrequencyMHz is 397.76 MHz, the bench tone of the EVM bring-up.
const demoFrequencyMHz = 397.76

func runDemo(args []string) error {
	fs := newFlagSet("demo")
	configPath := fs.StringP("config", "c", "configs/config.yaml", "server configuration to take board and adapter from")
	adapterKind := fs.String("adapter", "", "override adapter.kind (ftdi, modbus, sim)")
	document := fs.StringP("document", "d", "", "override board.config_document")
	freq := fs.Float64P("frequency", "f", demoFrequencyMHz, "output frequency of both channels in MHz")
	phaseB := fs.Float64("phase-b", 0, "phase of channel b relative to a in degrees")
	gain := fs.Float64P("gain", "g", 1.0, "amplitude of both channels, 0 to 2")
	hold := fs.Bool("hold", false, "keep the outputs running until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *adapterKind != "" {
		cfg.Adapter.Kind = *adapterKind
	}
	if *document != "" {
		cfg.Board.ConfigDocument = *document
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader, err := profile.NewLoader(cfg.Board.ProfilePaths)
	if err != nil {
		return err
	}
	p, err := loader.Load(cfg.Board.Profile)
	if err != nil {
		return err
	}

	device, _, err := system.OpenDevice(ctx, cfg.Adapter, p, logger)
	if err != nil {
		return err
	}

	ctrl := machine.NewController(logger, device, machine.FileDocument(cfg.Board.ConfigDocument), nil)
	defer ctrl.ExecuteCommand(context.Background(), machine.CommandClose)

	if err := ctrl.ExecuteCommand(ctx, machine.CommandInitialize); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	// Frequency and phase first, then a sync so both NCOs start aligned,
	// then the amplitude.
	phases := map[synth.Channel]float64{synth.ChannelA: 0, synth.ChannelB: *phaseB}
	for _, ch := range synth.Channels {
		phase := phases[ch]
		if _, err := ctrl.UpdateChannel(ctx, ch, types.ChannelUpdate{FrequencyMHz: freq, PhaseDeg: &phase}); err != nil {
			return fmt.Errorf("channel %s: %w", ch, err)
		}
	}
	if err := ctrl.ExecuteCommand(ctx, machine.CommandSync); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	for _, ch := range synth.Channels {
		if _, err := ctrl.UpdateChannel(ctx, ch, types.ChannelUpdate{Gain: gain}); err != nil {
			return fmt.Errorf("channel %s: %w", ch, err)
		}
	}

	for _, s := range ctrl.Channels() {
		fmt.Printf("channel %s: %.6f MHz, %.2f deg, gain %.3f\n", s.Channel, *s.FrequencyMHz, *s.PhaseDeg, *s.Gain)
	}

	if *hold {
		fmt.Println("outputs running, interrupt to close")
		<-ctx.Done()
	}
	return nil
}
