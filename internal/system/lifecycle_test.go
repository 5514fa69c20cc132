package system

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/KevinKickass/OpenSynthCore/internal/machine"
	"github.com/KevinKickass/OpenSynthCore/internal/streaming"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func simConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		t.Fatalf("GenerateMachineToken: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Board: config.BoardConfig{
			Profile:        "dac38rf82evm",
			ProfilePaths:   []string{"../../configs/profiles"},
			ConfigDocument: "testdata/sim.cfg",
			AutoInitialize: true,
		},
		Adapter: config.AdapterConfig{Kind: config.AdapterSim},
		Monitor: config.MonitorConfig{
			Interval:  20 * time.Millisecond,
			Registers: []config.WatchRegister{{Name: "pll", Chip: "lmk", Address: 0x0101}},
		},
		Auth: config.AuthConfig{
			AccessTokenTTL: time.Minute,
			MachineTokens: []config.MachineTokenConfig{
				{Name: "bench", Hash: hash, Permissions: []string{"operator"}},
			},
		},
	}
	return cfg, token
}

func startSystem(t *testing.T, cfg *config.Config) *LifecycleManager {
	t.Helper()

	lm, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}
	if err := lm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lm.Shutdown(ctx)
	})
	return lm
}

func dialGRPC(t *testing.T, lm *LifecycleManager) *grpc.ClientConn {
	t.Helper()
	port := lm.GRPCAddr().(*net.TCPAddr).Port
	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStartAutoInitializes(t *testing.T) {
	cfg, _ := simConfig(t)
	lm := startSystem(t, cfg)

	if got := lm.MachineController().State(); got != machine.StateReady {
		t.Fatalf("machine state = %s", got)
	}
	if got := lm.simBoard.Clock(0x0101); got != 0x55 {
		t.Fatalf("clock register 0x0101 = %#x", got)
	}

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.MachineState != "ready" || status.Adapter != "sim" || status.Profile != "dac38rf82evm" {
		t.Fatalf("status = %+v", status)
	}
	if status.DatabaseEnabled || lm.Runs() != nil {
		t.Fatal("run history without database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(dialGRPC(t, lm)).Check(ctx, &healthpb.HealthCheckRequest{Service: streaming.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %s", resp.Status)
	}
}

func TestEventsReachGRPCWatchers(t *testing.T) {
	cfg, token := simConfig(t)
	cfg.Monitor.Interval = 0
	lm := startSystem(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := streaming.NewEventsClient(dialGRPC(t, lm)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for lm.eventStreamer.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/channels/b", bytes.NewBufferString(`{"frequency_mhz": 397.76}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	lm.RESTHandler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT channel = %d %s", w.Code, w.Body)
	}

	ev, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	fields := ev.AsMap()
	data, _ := fields["data"].(map[string]any)
	if fields["type"] != machine.EventChannelUpdate || data["channel"] != "b" || data["frequency_mhz"] != 397.76 {
		t.Fatalf("event = %v", fields)
	}
}

func TestShutdown(t *testing.T) {
	cfg, _ := simConfig(t)
	lm, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}
	if err := lm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-lm.Done():
	default:
		t.Fatal("Done not closed")
	}
	if got := lm.MachineController().State(); got != machine.StateClosed {
		t.Fatalf("machine state = %s", got)
	}
	if got := lm.GetCurrentStatus().State; got != "STOPPED" {
		t.Fatalf("system state = %s", got)
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("unknown profile", func(t *testing.T) {
		cfg, _ := simConfig(t)
		cfg.Board.Profile = "no-such-board"
		if _, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t)); err == nil {
			t.Fatal("NewLifecycleManager succeeded")
		}
	})

	t.Run("bad monitor chip", func(t *testing.T) {
		cfg, _ := simConfig(t)
		cfg.Monitor.Registers = []config.WatchRegister{{Name: "x", Chip: "adc", Address: 1}}
		lm, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("NewLifecycleManager: %v", err)
		}
		if err := lm.Start(context.Background()); err == nil {
			t.Fatal("Start succeeded")
		}
		if got := lm.GetCurrentStatus(); got.State != "ERROR" || got.Error == "" {
			t.Fatalf("status = %+v", got)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		cfg, _ := simConfig(t)
		cfg.Board.ConfigDocument = "testdata/missing.cfg"
		lm := startSystem(t, cfg)
		// the servers stay up for a retry
		if got := lm.GetCurrentStatus(); got.State != "RUNNING" || got.MachineState == "ready" {
			t.Fatalf("status = %+v", got)
		}
	})
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateInitializing, StateError, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateError, StateStopping, true},
		{StateStopped, StateRunning, false},
		{StateRunning, StateInitializing, false},
		{SystemState(42), StateRunning, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v", tt.from, tt.to, err)
		}
	}
}
