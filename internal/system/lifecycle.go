package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/api/rest"
	"github.com/KevinKickass/OpenSynthCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/KevinKickass/OpenSynthCore/internal/chipsim"
	"github.com/KevinKickass/OpenSynthCore/internal/config"
	"github.com/KevinKickass/OpenSynthCore/internal/interfaces"
	"github.com/KevinKickass/OpenSynthCore/internal/machine"
	"github.com/KevinKickass/OpenSynthCore/internal/profile"
	"github.com/KevinKickass/OpenSynthCore/internal/storage"
	"github.com/KevinKickass/OpenSynthCore/internal/streaming"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type LifecycleManager struct {
	config  *config.Config
	storage *storage.PostgresClient
	logger  *zap.Logger

	profile           *types.BoardProfile
	simBoard          *chipsim.Board
	machineController *machine.Controller
	monitor           *machine.Monitor

	authService   *auth.AuthService
	wsHub         *websocket.Hub
	hubCancel     context.CancelFunc
	eventStreamer *streaming.EventStreamer
	health        *streaming.HealthReporter

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager loads the board profile and builds everything that
// does not touch hardware. db may be nil.
func NewLifecycleManager(db *storage.PostgresClient, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profile.NewLoader(cfg.Board.ProfilePaths)
	if err != nil {
		return nil, err
	}
	p, err := loader.Load(cfg.Board.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load board profile: %w", err)
	}

	authService := auth.NewAuthService(cfg.Auth, logger)

	return &LifecycleManager{
		config:        cfg,
		storage:       db,
		logger:        logger,
		profile:       p,
		authService:   authService,
		wsHub:         websocket.NewHub(logger, authService),
		eventStreamer: streaming.NewEventStreamer(),
		health:        streaming.NewHealthReporter(),
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}, nil
}

// MachineController returns the machine controller; nil before Start.
func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.machineController
}

// Start opens the adapter, builds the machine and starts both servers.
// With board.auto_initialize the machine is initialized before Start
// returns; a failed initialize leaves the machine in its error state but
// the servers running.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenSynthCore",
		zap.String("profile", lm.profile.ID),
		zap.String("adapter", lm.config.Adapter.Kind))

	if err := lm.startMachine(ctx); err != nil {
		lm.setError(err)
		return err
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("database", lm.storage != nil))

	if lm.config.Board.AutoInitialize {
		if err := lm.machineController.ExecuteCommand(ctx, machine.CommandInitialize); err != nil {
			lm.logger.Error("Automatic initialize failed", zap.Error(err))
		}
	}

	lm.monitor.Start()
	return nil
}

func (lm *LifecycleManager) startMachine(ctx context.Context) error {
	device, board, err := OpenDevice(ctx, lm.config.Adapter, lm.profile, lm.logger)
	if err != nil {
		return err
	}
	lm.simBoard = board

	var recorder machine.Recorder
	if lm.storage != nil {
		if err := lm.storage.EnsureSchema(ctx); err != nil {
			device.Close()
			return err
		}
		recorder = lm.storage
	}

	var document machine.DocumentSource
	if lm.config.Board.ConfigDocument != "" {
		document = machine.FileDocument(lm.config.Board.ConfigDocument)
	}

	lm.machineController = machine.NewController(lm.logger, device, document, recorder)
	lm.machineController.Subscribe(lm.forwardEvent)

	watch := make([]machine.WatchRegister, 0, len(lm.config.Monitor.Registers))
	for _, r := range lm.config.Monitor.Registers {
		chip, err := synth.ParseChip(r.Chip)
		if err != nil {
			device.Close()
			return fmt.Errorf("monitor register %s: %w", r.Name, err)
		}
		watch = append(watch, machine.WatchRegister{Name: r.Name, Chip: chip, Address: r.Address})
	}
	lm.monitor = machine.NewMonitor(lm.machineController, watch, lm.config.Monitor.Interval, lm.logger)

	lm.wsHub.SetStatusProvider(func() any { return lm.GetCurrentStatus() })
	return nil
}

// forwardEvent fans a machine event out to WebSocket clients, gRPC
// watchers and the health service.
func (lm *LifecycleManager) forwardEvent(ev machine.Event) {
	lm.wsHub.Broadcast(websocket.NewEventMessage(ev.Type, ev.Timestamp, ev.Data))

	if err := lm.eventStreamer.Publish(ev.Type, ev.Timestamp, ev.Data); err != nil {
		lm.logger.Warn("Failed to stream event", zap.String("type", ev.Type), zap.Error(err))
	}

	if ev.Type == machine.EventMachineState {
		lm.health.SetReady(ev.Data["state"] == string(machine.StateReady))
	}
}

// Shutdown stops the servers, closes the hardware and the database. It runs
// once; later calls return the first result.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.monitor != nil {
		lm.monitor.Stop()
	}

	// ends every Watch stream so GracefulStop can return
	lm.health.Shutdown()
	lm.eventStreamer.Close()

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lm.restServer.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				lm.grpcServer.Stop()
				errChan <- fmt.Errorf("grpc graceful stop: %w", ctx.Err())
			}
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		errs = append(errs, err)
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
		<-lm.wsHub.Done()
	}

	if mc := lm.machineController; mc != nil && mc.State() != machine.StateClosed {
		if err := mc.ExecuteCommand(ctx, machine.CommandClose); err != nil {
			errs = append(errs, fmt.Errorf("machine close failed: %w", err))
		}
	}

	if lm.storage != nil {
		lm.storage.Close()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer()
	streaming.RegisterEventsServer(lm.grpcServer, streaming.NewEventService(lm.eventStreamer))
	lm.health.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", streaming.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

// GRPCAddr is the address the gRPC server listens on; nil before Start.
func (lm *LifecycleManager) GRPCAddr() net.Addr {
	return lm.grpcAddr
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// RESTHandler exposes the REST router; nil before Start.
func (lm *LifecycleManager) RESTHandler() http.Handler {
	if lm.restServer == nil {
		return nil
	}
	return lm.restServer.Handler()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring system state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{
		State:           lm.currentState.String(),
		Error:           lm.lastError,
		Adapter:         lm.config.Adapter.Kind,
		Profile:         lm.profile.ID,
		DatabaseEnabled: lm.storage != nil,
		StartedAt:       lm.startedAt,
	}
	lm.stateMu.RUnlock()

	if lm.machineController != nil {
		status.MachineState = string(lm.machineController.State())
	}
	status.WebsocketClients = lm.wsHub.GetClientCount()
	status.GRPCWatchers = lm.eventStreamer.SubscriberCount()
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

// Runs returns the run history, or nil while the database is disabled.
func (lm *LifecycleManager) Runs() interfaces.RunHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Profile returns the loaded board profile
func (lm *LifecycleManager) Profile() *types.BoardProfile {
	return lm.profile
}

// AuthService returns the auth service
func (lm *LifecycleManager) AuthService() *auth.AuthService {
	return lm.authService
}
