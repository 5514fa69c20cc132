package chipsim

import (
	"errors"
	"testing"

	"github.com/KevinKickass/OpenSynthCore/internal/bitbang"
	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
	"github.com/KevinKickass/OpenSynthCore/internal/regmap"
)

func newBuses(t *testing.T) (*Board, *bitbang.ClockBus, *regmap.PagedMap) {
	t.Helper()
	cfg := DefaultConfig()
	board := NewBoard(cfg)
	reg := gpio.NewRegister(board, cfg.ClockPins.Select|cfg.ConverterPins.Select)
	if err := reg.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	clock := bitbang.NewClockBus(reg, cfg.ClockPins)
	dac := regmap.New(bitbang.NewConverterBus(reg, cfg.ConverterPins), cfg.PageRegister)
	return board, clock, dac
}

func TestClockWriteRead(t *testing.T) {
	board, clock, _ := newBuses(t)

	if err := clock.Write(0x0143, 0x11); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := board.Clock(0x0143); got != 0x11 {
		t.Fatalf("register = 0x%X, want 0x11", got)
	}

	board.SetClock(0x1FFD, 0xA5)
	got, err := clock.Read(0x1FFD)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xA5 {
		t.Fatalf("read = 0x%X, want 0xA5", got)
	}
	if v := board.Violations(); v != 0 {
		t.Fatalf("violations = %d", v)
	}
}

func TestConverterPagedWriteRead(t *testing.T) {
	board, _, dac := newBuses(t)

	if err := dac.Write(0x011E, 0xBEEF); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dac.Write(0x021E, 0x1234); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := board.Converter(0x011E); got != 0xBEEF {
		t.Fatalf("page 1 = 0x%X", got)
	}
	if got := board.Converter(0x021E); got != 0x1234 {
		t.Fatalf("page 2 = 0x%X", got)
	}

	got, err := dac.Read(0x011E)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xBEEF {
		t.Fatalf("read = 0x%X, want 0xBEEF", got)
	}
	if v := board.Violations(); v != 0 {
		t.Fatalf("violations = %d", v)
	}
}

func TestConverterCombinedPage(t *testing.T) {
	board, _, dac := newBuses(t)

	if err := dac.Write(0x0328, 0x0330); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, addr := range []uint32{0x0128, 0x0228} {
		if got := board.Converter(addr); got != 0x0330 {
			t.Errorf("0x%04X = 0x%X, want 0x330", addr, got)
		}
	}

	writes := board.Writes()
	last := writes[len(writes)-1]
	if last != (Write{Bus: BusConverter, Address: 0x0328, Value: 0x0330}) {
		t.Fatalf("last write = %+v", last)
	}
}

func TestSelfClearing(t *testing.T) {
	board, _, dac := newBuses(t)
	board.SetSelfClearing(0x0000, 0x0002)

	if err := dac.Write(0x0000, 0x5803); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := dac.Read(0x0000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x5801 {
		t.Fatalf("read = 0x%X, want 0x5801", got)
	}
}

func TestReadOnlyClockRegister(t *testing.T) {
	board, clock, _ := newBuses(t)
	board.SetClock(0x0003, 0x06)
	board.SetReadOnly(0x0003)

	if err := clock.Write(0x0003, 0x00); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := clock.Read(0x0003)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x06 {
		t.Fatalf("read = 0x%X, want 0x06", got)
	}
}

func TestResetClearsConverter(t *testing.T) {
	board, _, dac := newBuses(t)
	if err := dac.Write(0x0132, 0x8400); err != nil {
		t.Fatalf("write: %v", err)
	}

	reset := gpio.NewRegister(board.ResetPort(), 0x20)
	for _, level := range []bool{true, false, true} {
		reset.Set(0x20, level)
		if err := reset.Flush(); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	if board.Resets() != 1 {
		t.Fatalf("resets = %d, want 1", board.Resets())
	}
	if got := board.Converter(0x0132); got != 0 {
		t.Fatalf("register survived reset: 0x%X", got)
	}
	if board.Page() != 0 {
		t.Fatalf("page survived reset: %d", board.Page())
	}
}

func TestClosedBoard(t *testing.T) {
	board := NewBoard(DefaultConfig())
	if err := board.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := board.Write(0x00); !errors.Is(err, gpio.ErrPortClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if _, err := board.Read(); !errors.Is(err, gpio.ErrPortClosed) {
		t.Fatalf("read after close: %v", err)
	}
}
