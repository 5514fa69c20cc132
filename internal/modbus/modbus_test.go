package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/gpio"
)

// responder is an in-process Modbus/TCP slave with one register bank for
// holding and input registers.
type responder struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	registers map[uint16]uint16
	writes    []uint16 // addresses, in order
	// echo maps an input register to the holding register it mirrors.
	echo map[uint16]uint16
}

func newResponder(t *testing.T) *responder {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &responder{t: t, ln: ln, registers: map[uint16]uint16{}, echo: map[uint16]uint16{}}
	go r.serve()
	t.Cleanup(func() { ln.Close() })
	return r
}

func (r *responder) addr() string { return r.ln.Addr().String() }

func (r *responder) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *responder) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, mbapLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, int(binary.BigEndian.Uint16(header[4:6]))-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		req, err := DecodeFrame(append(header, body...))
		if err != nil {
			return
		}
		if _, err := conn.Write(r.respond(req).Encode()); err != nil {
			return
		}
	}
}

func (r *responder) respond(req *ModbusFrame) *ModbusFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	resp := &ModbusFrame{TransactionID: req.TransactionID, UnitID: req.UnitID, FunctionCode: req.FunctionCode}
	addr := binary.BigEndian.Uint16(req.Data[0:2])
	arg := binary.BigEndian.Uint16(req.Data[2:4])

	switch req.FunctionCode {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		data := []byte{byte(arg * 2)}
		for i := uint16(0); i < arg; i++ {
			a := addr + i
			if req.FunctionCode == FuncCodeReadInputRegisters {
				if src, ok := r.echo[a]; ok {
					a = src
				}
			}
			data = binary.BigEndian.AppendUint16(data, r.registers[a])
		}
		resp.Data = data
	case FuncCodeWriteSingleRegister:
		if addr >= 1000 {
			resp.FunctionCode |= exceptionFlag
			resp.Data = []byte{0x02}
			break
		}
		r.registers[addr] = arg
		r.writes = append(r.writes, addr)
		resp.Data = req.Data
	default:
		resp.FunctionCode |= exceptionFlag
		resp.Data = []byte{0x01}
	}
	return resp
}

func (r *responder) register(addr uint16) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registers[addr]
}

func (r *responder) writeLog() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.writes...)
}

func connect(t *testing.T, r *responder) *Client {
	t.Helper()
	c := NewClient(r.addr(), time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	f := WriteSingleRegisterRequest(7, 0x0010, 0xBEEF)
	f.TransactionID = 42

	encoded := f.Encode()
	if len(encoded) != 12 {
		t.Fatalf("encoded length = %d, want 12", len(encoded))
	}
	if binary.BigEndian.Uint16(encoded[4:6]) != 6 {
		t.Fatalf("length field = %d, want 6", binary.BigEndian.Uint16(encoded[4:6]))
	}

	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TransactionID != 42 || decoded.UnitID != 7 || decoded.FunctionCode != FuncCodeWriteSingleRegister {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestDecodeFrameRejects(t *testing.T) {
	if _, err := DecodeFrame([]byte{0, 1, 0, 0}); err == nil {
		t.Error("short frame accepted")
	}
	bad := WriteSingleRegisterRequest(1, 0, 0).Encode()
	bad[2] = 0x01
	if _, err := DecodeFrame(bad); err == nil {
		t.Error("non-zero protocol ID accepted")
	}
}

func TestExceptionResponse(t *testing.T) {
	r := newResponder(t)
	c := connect(t, r)
	defer c.Close()

	err := c.WriteSingleRegister(context.Background(), 1, 2000, 1)
	var exc *ExceptionError
	if !errors.As(err, &exc) {
		t.Fatalf("err = %v, want *ExceptionError", err)
	}
	if exc.FunctionCode != FuncCodeWriteSingleRegister || exc.Code != 0x02 {
		t.Fatalf("exception = %+v", exc)
	}
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1", time.Second)
	if _, err := c.ReadHoldingRegisters(context.Background(), 1, 0, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestRemotePort(t *testing.T) {
	r := newResponder(t)
	r.echo[20] = 10 // pins read back what the output register drives

	coupler := NewCoupler(connect(t, r), 1, time.Second)
	port, err := coupler.Port(context.Background(), PortRegisters{Output: 10, Input: 20, Direction: 30})
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	if got := r.register(30); got != 0xFF {
		t.Fatalf("initial direction = 0x%02X, want 0xFF", got)
	}

	if err := port.Write(0x88); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := r.register(10); got != 0x88 {
		t.Fatalf("output register = 0x%02X", got)
	}
	v, err := port.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != 0x88 {
		t.Fatalf("Read = 0x%02X, want 0x88", v)
	}

	if err := port.SetDirection(0xFF, 0xF9); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if got := r.register(30); got != 0xF9 {
		t.Fatalf("direction register = 0x%02X, want 0xF9", got)
	}

	// unchanged direction is not re-sent
	before := len(r.writeLog())
	if err := port.SetDirection(0x06, 0x00); err != nil {
		t.Fatalf("SetDirection: %v", err)
	}
	if len(r.writeLog()) != before {
		t.Fatal("redundant direction write")
	}
	if port.Direction() != 0xF9 {
		t.Fatalf("Direction = 0x%02X", port.Direction())
	}
}

func TestCouplerClosesWithLastPort(t *testing.T) {
	r := newResponder(t)
	client := connect(t, r)
	coupler := NewCoupler(client, 1, time.Second)

	bus, err := coupler.Port(context.Background(), PortRegisters{Output: 10, Input: 20, Direction: 30})
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	reset, err := coupler.Port(context.Background(), PortRegisters{Output: 11, Input: 21, Direction: 31})
	if err != nil {
		t.Fatalf("Port: %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := reset.Write(0x20); err != nil {
		t.Fatalf("reset port unusable after bus close: %v", err)
	}
	if err := bus.Write(0); !errors.Is(err, gpio.ErrPortClosed) {
		t.Fatalf("write on closed port: %v", err)
	}

	if err := reset.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := client.ReadHoldingRegisters(context.Background(), 1, 0, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("client still connected: %v", err)
	}
}
