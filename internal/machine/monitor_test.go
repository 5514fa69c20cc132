package machine

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"go.uber.org/zap/zaptest"
)

func TestMonitorPollsOnlyWhenReady(t *testing.T) {
	f := newFixture(t, false)
	regs := []WatchRegister{
		{Name: "pll", Chip: synth.ChipClock, Address: 0x0101},
		{Name: "alarm", Chip: synth.ChipConverter, Address: 0x0064},
	}
	m := NewMonitor(f.ctrl, regs, time.Second, zaptest.NewLogger(t))

	if n := m.Poll(); n != 0 {
		t.Fatalf("polled %d registers before ready", n)
	}

	f.initialize(t)
	f.board.SetConverter(0x0064, 0x0003)

	if n := m.Poll(); n != 2 {
		t.Fatalf("polled %d registers, want 2", n)
	}
	values := f.events.ofType(EventRegisterValue)
	if len(values) != 2 {
		t.Fatalf("register events = %d", len(values))
	}
	if values[0].Data["name"] != "pll" || values[0].Data["value"] != float64(0x55) {
		t.Fatalf("first event = %+v", values[0].Data)
	}
	if values[1].Data["chip"] != "dac" || values[1].Data["value"] != float64(3) {
		t.Fatalf("second event = %+v", values[1].Data)
	}
	if m.last["alarm"] != 3 {
		t.Fatalf("last = %v", m.last)
	}
}

func TestMonitorStartStop(t *testing.T) {
	f := newFixture(t, false)
	f.initialize(t)

	m := NewMonitor(f.ctrl, []WatchRegister{{Name: "pll", Chip: synth.ChipClock, Address: 0x0101}},
		5*time.Millisecond, zaptest.NewLogger(t))
	m.Start()
	m.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.events.ofType(EventRegisterValue)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("monitor never polled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()
}

func TestMonitorDisabled(t *testing.T) {
	f := newFixture(t, false)
	m := NewMonitor(f.ctrl, nil, time.Second, zaptest.NewLogger(t))
	m.Start()
	if m.running {
		t.Fatal("monitor without registers started")
	}
	m.Stop()
}
