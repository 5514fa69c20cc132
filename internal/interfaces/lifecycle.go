package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/KevinKickass/OpenSynthCore/internal/machine"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string    `json:"state"`
	Error            string    `json:"error,omitempty"`
	MachineState     string    `json:"machine_state"`
	Adapter          string    `json:"adapter"`
	Profile          string    `json:"profile"`
	DatabaseEnabled  bool      `json:"database_enabled"`
	WebsocketClients int       `json:"websocket_clients"`
	GRPCWatchers     int       `json:"grpc_watchers"`
	StartedAt        time.Time `json:"started_at"`
}

// RunHistory lists past machine commands.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]types.SynthRun, error)
}

type LifecycleManager interface {
	Config() *config.Config
	MachineController() *machine.Controller
	// Runs is nil while the database is disabled.
	Runs() RunHistory
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
