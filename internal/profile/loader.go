// Package profile loads board profiles: how the LMK04828 and DAC38RF8x
// pins, the reset line and the sample clock are wired on a given board.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSynthCore/internal/bitbang"
	"github.com/KevinKickass/OpenSynthCore/internal/chipsim"
	"github.com/KevinKickass/OpenSynthCore/internal/regmap"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"gopkg.in/yaml.v3"
)

// DefaultID names the built-in DAC38RF82EVM profile.
const DefaultID = "dac38rf82evm"

var extensions = []string{".json", ".yaml", ".yml"}

// Default returns the DAC38RF82EVM wiring.
func Default() *types.BoardProfile {
	return &types.BoardProfile{
		ID:            DefaultID,
		Description:   "TI DAC38RF82EVM, FT2232H port B bit-bang",
		SampleRateMHz: synth.DefaultSampleRateMHz,
		ClockPins:     assignment(bitbang.DefaultClockPins),
		ConverterPins: assignment(bitbang.DefaultConverterPins),
		ResetMask:     0x20,
		PageRegister:  regmap.DefaultPageRegister,
	}
}

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load resolves name as a file path first, then as a profile name under
// each search path with a .json, .yaml or .yml extension. An empty name,
// or the built-in ID with no file of that name, yields Default.
func (l *Loader) Load(name string) (*types.BoardProfile, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.BoardProfile), nil
	}

	path, found := l.resolve(name)
	if !found {
		if name == "" || name == DefaultID {
			return Default(), nil
		}
		return nil, fmt.Errorf("profile not found: %s (searched in: %v)", name, l.searchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	p, err := l.decode(path, data)
	if err != nil {
		return nil, err
	}

	l.cache.Store(name, p)
	return p, nil
}

func (l *Loader) resolve(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		return name, true
	}
	for _, dir := range l.searchPaths {
		for _, ext := range extensions {
			full := filepath.Join(dir, name+ext)
			if _, err := os.Stat(full); err == nil {
				return full, true
			}
		}
	}
	return "", false
}

func (l *Loader) decode(path string, data []byte) (*types.BoardProfile, error) {
	var p types.BoardProfile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
		if err := l.validator.ValidateDocument(doc); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	default:
		if err := l.validator.ValidateProfile(data); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}

	if _, err := SynthConfig(&p); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func assignment(p bitbang.Pins) types.PinAssignment {
	return types.PinAssignment{
		Clock:   p.Clock,
		DataIn:  p.DataIn,
		DataOut: p.DataOut,
		Select:  p.Select,
		Sample:  p.Sample,
	}
}

func pins(a types.PinAssignment) bitbang.Pins {
	return bitbang.Pins{
		Clock:   a.Clock,
		DataIn:  a.DataIn,
		DataOut: a.DataOut,
		Select:  a.Select,
		Sample:  a.Sample,
	}
}

// SynthConfig converts a profile to controller wiring and checks it.
func SynthConfig(p *types.BoardProfile) (synth.Config, error) {
	cfg := synth.Config{
		SampleRateMHz: p.SampleRateMHz,
		ClockPins:     pins(p.ClockPins),
		ConverterPins: pins(p.ConverterPins),
		ResetMask:     p.ResetMask,
		PageRegister:  p.PageRegister,
	}
	if err := cfg.Validate(); err != nil {
		return synth.Config{}, err
	}
	return cfg, nil
}

// SimConfig is the wiring a simulated board listens on for this profile.
func SimConfig(p *types.BoardProfile) chipsim.Config {
	return chipsim.Config{
		ClockPins:     pins(p.ClockPins),
		ConverterPins: pins(p.ConverterPins),
		ResetMask:     p.ResetMask,
		PageRegister:  p.PageRegister,
	}
}
