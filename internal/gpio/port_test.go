package gpio

import (
	"errors"
	"testing"
)

func TestRegisterSetPreservesOtherBits(t *testing.T) {
	tests := []struct {
		name    string
		initial byte
		mask    byte
		on      bool
		want    byte
	}{
		{"set one bit", 0x80, 0x01, true, 0x81},
		{"clear one bit", 0x81, 0x80, false, 0x01},
		{"set already set", 0x0F, 0x04, true, 0x0F},
		{"clear multi-bit mask", 0xFF, 0x30, false, 0xCF},
		{"set multi-bit mask", 0x00, 0x30, true, 0x30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegister(NewRecorder(), tt.initial)
			r.Set(tt.mask, tt.on)
			if got := r.State(); got != tt.want {
				t.Fatalf("state = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestRegisterSetDoesNotFlush(t *testing.T) {
	rec := NewRecorder()
	r := NewRegister(rec, 0)
	r.Set(0x01, true)
	r.Set(0x02, true)
	if n := len(rec.Ops()); n != 0 {
		t.Fatalf("expected no port traffic before Flush, got %d ops", n)
	}

	if err := r.Flush(); err != nil {
		t.Fatal(err)
	}
	writes := rec.Writes()
	if len(writes) != 1 || writes[0] != 0x03 {
		t.Fatalf("writes = %v, want [0x03]", writes)
	}
}

func TestRegisterSample(t *testing.T) {
	rec := NewRecorder(0x04, 0x00)
	r := NewRegister(rec, 0)

	hi, err := r.Sample(0x04)
	if err != nil || !hi {
		t.Fatalf("first sample = %v, %v; want true", hi, err)
	}
	lo, err := r.Sample(0x04)
	if err != nil || lo {
		t.Fatalf("second sample = %v, %v; want false", lo, err)
	}
}

func TestRecorderClosed(t *testing.T) {
	rec := NewRecorder()
	r := NewRegister(rec, 0)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Flush(); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("flush after close: %v", err)
	}
	if _, err := r.Sample(0x01); !errors.Is(err, ErrPortClosed) {
		t.Fatalf("sample after close: %v", err)
	}
}

func TestRecorderOrder(t *testing.T) {
	rec := NewRecorder(0xAA)
	_ = rec.SetDirection(0xFF, 0xF0)
	_ = rec.Write(0x12)
	_, _ = rec.Read()

	want := []Op{
		{Kind: OpDirection, Value: 0xF0, Mask: 0xFF},
		{Kind: OpWrite, Value: 0x12},
		{Kind: OpRead, Value: 0xAA},
	}
	got := rec.Ops()
	if len(got) != len(want) {
		t.Fatalf("got %d ops, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
