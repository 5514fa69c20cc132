package regmap

import (
	"errors"
	"testing"
)

type frame struct {
	read   bool
	offset uint32
	data   uint32
}

type fakeBus struct {
	frames []frame
	regs   map[uint32]uint32
	fail   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: make(map[uint32]uint32)}
}

func (b *fakeBus) Write(offset, data uint32) error {
	if b.fail != nil {
		return b.fail
	}
	b.frames = append(b.frames, frame{offset: offset, data: data})
	b.regs[offset] = data
	return nil
}

func (b *fakeBus) Read(offset uint32) (uint32, error) {
	if b.fail != nil {
		return 0, b.fail
	}
	b.frames = append(b.frames, frame{read: true, offset: offset})
	return b.regs[offset], nil
}

func (b *fakeBus) pageSelects() []uint32 {
	var pages []uint32
	for _, f := range b.frames {
		if !f.read && f.offset == DefaultPageRegister {
			pages = append(pages, f.data)
		}
	}
	return pages
}

func TestSamePageSelectsOnce(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	if err := m.Write(0x011E, 0x1234); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(0x011F, 0x5678); err != nil {
		t.Fatal(err)
	}

	if got := bus.pageSelects(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("page selects = %v, want [1]", got)
	}
	want := []frame{
		{offset: DefaultPageRegister, data: 1},
		{offset: 0x1E, data: 0x1234},
		{offset: 0x1F, data: 0x5678},
	}
	if len(bus.frames) != len(want) {
		t.Fatalf("frames = %+v", bus.frames)
	}
	for i := range want {
		if bus.frames[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, bus.frames[i], want[i])
		}
	}
}

func TestAlternatingPagesSelectEachTime(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	addrs := []uint32{0x0132, 0x0232, 0x0132, 0x0232, 0x0328}
	for _, a := range addrs {
		if err := m.Write(a, 0x8000); err != nil {
			t.Fatal(err)
		}
	}

	got := bus.pageSelects()
	want := []uint32{1, 2, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("page selects = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page selects = %v, want %v", got, want)
		}
	}
}

func TestFirstAccessAlwaysSelects(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	if _, known := m.Page(); known {
		t.Fatal("page known before any access")
	}
	if _, err := m.Read(0x0000); err != nil {
		t.Fatal(err)
	}
	if got := bus.pageSelects(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("page selects = %v, want [0]", got)
	}
}

func TestReadUsesPageCache(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	_ = m.Write(0x021C, 0x4000)
	if _, err := m.Read(0x021C); err != nil {
		t.Fatal(err)
	}
	if got := bus.pageSelects(); len(got) != 1 {
		t.Fatalf("page selects = %v, want one", got)
	}
}

func TestInvalidateForcesSelect(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	_ = m.Write(0x0124, 0x30)
	m.Invalidate()
	_ = m.Write(0x0124, 0x00)
	if got := bus.pageSelects(); len(got) != 2 {
		t.Fatalf("page selects = %v, want two", got)
	}
}

func TestPageRegisterWriteUpdatesCache(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)

	if err := m.Write(DefaultPageRegister, 4); err != nil {
		t.Fatal(err)
	}
	if p, known := m.Page(); !known || p != 4 {
		t.Fatalf("page = %d (known %v), want 4", p, known)
	}

	// already on page 4, no second select
	_ = m.Write(0x040A, 0xFC03)
	if got := bus.pageSelects(); len(got) != 1 {
		t.Fatalf("page selects = %v", got)
	}

	v, err := m.Read(DefaultPageRegister)
	if err != nil {
		t.Fatal(err)
	}
	if v != 4 {
		t.Fatalf("page register reads %d, want 4", v)
	}
	if p, _ := m.Page(); p != 4 {
		t.Fatalf("reading the page register changed the page to %d", p)
	}
}

func TestInvalidPage(t *testing.T) {
	m := New(newFakeBus(), DefaultPageRegister)

	if err := m.Write(0x0810, 1); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("write err = %v", err)
	}
	if _, err := m.Read(0x0810); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("read err = %v", err)
	}
	if err := m.Write(DefaultPageRegister, 9); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("page select err = %v", err)
	}
}

func TestFailedSelectLeavesPageUnknown(t *testing.T) {
	bus := newFakeBus()
	m := New(bus, DefaultPageRegister)
	_ = m.Write(0x0100, 1)

	bus.fail = errors.New("usb gone")
	if err := m.Write(0x0200, 1); err == nil {
		t.Fatal("expected error")
	}
	if _, known := m.Page(); known {
		t.Fatal("page still known after failed select")
	}
}
