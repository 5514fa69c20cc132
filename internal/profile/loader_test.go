package profile

import (
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenSynthCore/internal/synth"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader([]string{"testdata", filepath.Join("..", "..", "configs", "profiles")})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func TestDefaultMatchesController(t *testing.T) {
	cfg, err := SynthConfig(Default())
	if err != nil {
		t.Fatalf("SynthConfig: %v", err)
	}
	if cfg != synth.DefaultConfig() {
		t.Fatalf("default profile = %+v, want %+v", cfg, synth.DefaultConfig())
	}

	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.ValidateBoardProfile(Default()); err != nil {
		t.Fatalf("default profile fails its own schema: %v", err)
	}
}

func TestLoadShippedProfile(t *testing.T) {
	l := newLoader(t)

	p, err := l.Load(DefaultID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := SynthConfig(p)
	if err != nil {
		t.Fatalf("SynthConfig: %v", err)
	}
	if cfg.ClockPins != synth.DefaultConfig().ClockPins || cfg.ConverterPins != synth.DefaultConfig().ConverterPins {
		t.Fatalf("shipped profile pins differ from the built-in default: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	l := newLoader(t)

	p, err := l.Load("evm")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID != "evm-yaml" || p.ClockPins.Select != 0x80 || p.PageRegister != 0x09 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestLoadByPath(t *testing.T) {
	l := newLoader(t)

	if _, err := l.Load(filepath.Join("testdata", "evm.yaml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadCaches(t *testing.T) {
	l := newLoader(t)

	a, err := l.Load("evm")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := l.Load("evm")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a != b {
		t.Fatal("second load not served from cache")
	}

	l.ClearCache()
	c, err := l.Load("evm")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c == a {
		t.Fatal("cache not cleared")
	}
}

func TestLoadRejects(t *testing.T) {
	l := newLoader(t)

	tests := []struct {
		name string
		file string
	}{
		{"not a single bit", "badpin"},
		{"overlapping buses", "overlap"},
		{"missing", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.Load(tt.file); err == nil {
				t.Fatalf("Load(%s) succeeded", tt.file)
			}
		})
	}
}

func TestEmptyNameIsDefault(t *testing.T) {
	l := newLoader(t)

	p, err := l.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID != DefaultID {
		t.Fatalf("ID = %q", p.ID)
	}
}
