// Package machine serializes every hardware access of the synthesizer
// behind one lock and tracks the bring-up state the commands move through.
package machine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/regconfig"
	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"github.com/KevinKickass/OpenSynthCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidState   = errors.New("invalid machine state")
	ErrUnknownCommand = errors.New("unknown command")
	ErrEmptyUpdate    = errors.New("channel update sets no quantity")
	ErrNoRecorder     = errors.New("no channel settings stored")
)

// Device is the hardware surface driven by the controller; *synth.Controller
// implements it.
type Device interface {
	Reset() error
	Configure(doc *regconfig.Document) error
	BringUp() error
	Resynchronize() error
	SetFrequency(ch synth.Channel, freqMHz float64) error
	SetPhase(ch synth.Channel, degrees float64) error
	SetAmplitude(ch synth.Channel, gain float64) error
	WriteRegister(chip synth.Chip, addr, value uint32) error
	ReadRegister(chip synth.Chip, addr uint32) (uint32, error)
	SampleRateMHz() float64
	Close() error
}

// Recorder persists run history and the last applied channel settings.
type Recorder interface {
	StartRun(ctx context.Context, run *types.SynthRun) error
	FinishRun(ctx context.Context, run *types.SynthRun) error
	SaveChannel(ctx context.Context, state types.ChannelState) error
	LoadChannels(ctx context.Context) ([]types.ChannelState, error)
}

// DocumentSource supplies the register configuration for configure.
type DocumentSource func() (*regconfig.Document, error)

// FileDocument loads the configuration document from path on every call.
func FileDocument(path string) DocumentSource {
	return func() (*regconfig.Document, error) {
		return regconfig.Load(path)
	}
}

type Controller struct {
	logger   *zap.Logger
	device   Device
	recorder Recorder
	document DocumentSource

	// hw is held for the whole of every hardware operation
	hw sync.Mutex

	mu              sync.RWMutex
	state           State
	errorMessage    string
	failure         *types.Mismatch
	lastCommand     Command
	lastStateChange time.Time
	channels        map[synth.Channel]*types.ChannelState

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// NewController wraps device. recorder may be nil.
func NewController(logger *zap.Logger, device Device, document DocumentSource, recorder Recorder) *Controller {
	return &Controller{
		logger:          logger,
		device:          device,
		recorder:        recorder,
		document:        document,
		state:           StateUninitialized,
		lastStateChange: time.Now(),
		channels:        make(map[synth.Channel]*types.ChannelState),
	}
}

// Subscribe registers fn for every event. fn runs on the caller's goroutine
// and must not block.
func (c *Controller) Subscribe(fn func(Event)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

func (c *Controller) emit(ev Event) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, fn := range c.listeners {
		fn(ev)
	}
}

// ExecuteCommand handles machine commands
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.hw.Lock()
	defer c.hw.Unlock()

	current := c.State()
	c.logger.Info("Machine command received",
		zap.String("command", string(cmd)),
		zap.String("current_state", string(current)))

	if _, err := ParseCommand(string(cmd)); err != nil {
		return err
	}
	if !cmd.allowed(current) {
		return fmt.Errorf("%w: cannot %s in state %s", ErrInvalidState, cmd, current)
	}

	run := &types.SynthRun{
		ID:        uuid.New(),
		Command:   string(cmd),
		Status:    types.RunStatusRunning,
		StartedAt: time.Now(),
	}
	c.startRun(ctx, run)

	err := c.execute(ctx, cmd, run)

	c.mu.Lock()
	c.lastCommand = cmd
	c.mu.Unlock()

	c.finishRun(ctx, run, err)
	return err
}

func (c *Controller) execute(ctx context.Context, cmd Command, run *types.SynthRun) error {
	switch cmd {
	case CommandReset:
		return c.executeReset()
	case CommandConfigure:
		return c.executeConfigure(run)
	case CommandBringUp:
		return c.executeBringUp()
	case CommandInitialize:
		if err := c.executeReset(); err != nil {
			return err
		}
		if err := c.executeConfigure(run); err != nil {
			return err
		}
		return c.executeBringUp()
	case CommandSync:
		return c.executeSync()
	case CommandRestore:
		return c.executeRestore(ctx)
	case CommandClose:
		return c.executeClose()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (c *Controller) executeReset() error {
	if err := c.device.Reset(); err != nil {
		return c.fail(err)
	}

	// the converter comes out of reset with its power-on registers
	c.mu.Lock()
	c.channels = make(map[synth.Channel]*types.ChannelState)
	c.mu.Unlock()

	c.setState(StateReset, "", nil)
	return nil
}

func (c *Controller) executeConfigure(run *types.SynthRun) error {
	if c.document == nil {
		return fmt.Errorf("no configuration document")
	}
	doc, err := c.document()
	if err != nil {
		return fmt.Errorf("failed to load configuration document: %w", err)
	}
	run.ClockCount = len(doc.Clock)
	run.ConvCount = len(doc.Converter)

	if err := c.device.Configure(doc); err != nil {
		return c.fail(err)
	}

	c.logger.Info("Configuration verified",
		zap.Int("clock_entries", len(doc.Clock)),
		zap.Int("converter_entries", len(doc.Converter)))
	c.setState(StateConfigured, "", nil)
	return nil
}

func (c *Controller) executeBringUp() error {
	if err := c.device.BringUp(); err != nil {
		return c.fail(err)
	}
	c.setState(StateReady, "", nil)
	return nil
}

func (c *Controller) executeSync() error {
	if err := c.device.Resynchronize(); err != nil {
		return c.fail(err)
	}
	c.logger.Info("Outputs resynchronized")
	return nil
}

func (c *Controller) executeRestore(ctx context.Context) error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	states, err := c.recorder.LoadChannels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channel settings: %w", err)
	}

	restored := 0
	for _, s := range states {
		ch, err := synth.ParseChannel(s.Channel)
		if err != nil {
			c.logger.Warn("Skipping stored channel", zap.String("channel", s.Channel))
			continue
		}
		u := s.Update()
		if u.Empty() {
			continue
		}
		if _, err := c.applyUpdate(ctx, ch, u, false); err != nil {
			return err
		}
		restored++
	}

	c.logger.Info("Channel settings restored", zap.Int("channels", restored))
	return nil
}

func (c *Controller) executeClose() error {
	err := c.device.Close()
	c.setState(StateClosed, "", nil)
	if err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}

// fail moves to the error state; only reset leaves it.
func (c *Controller) fail(err error) error {
	var mismatch *types.Mismatch
	var ve *synth.VerifyError
	if errors.As(err, &ve) {
		mismatch = &types.Mismatch{
			Chip:     ve.Chip.String(),
			Address:  ve.Address,
			Expected: ve.Expected,
			Actual:   ve.Actual,
		}
	}
	if errors.Is(err, synth.ErrClosed) {
		c.setState(StateClosed, err.Error(), nil)
		return err
	}
	c.setState(StateError, err.Error(), mismatch)
	return err
}

// UpdateChannel applies any subset of frequency, phase and gain. Every
// quantity is checked before the first register is written.
func (c *Controller) UpdateChannel(ctx context.Context, ch synth.Channel, u types.ChannelUpdate) (types.ChannelState, error) {
	if u.Empty() {
		return types.ChannelState{}, ErrEmptyUpdate
	}

	c.hw.Lock()
	defer c.hw.Unlock()

	if s := c.State(); s != StateReady {
		return types.ChannelState{}, fmt.Errorf("%w: cannot update channel in state %s", ErrInvalidState, s)
	}
	return c.applyUpdate(ctx, ch, u, true)
}

func (c *Controller) applyUpdate(ctx context.Context, ch synth.Channel, u types.ChannelUpdate, persist bool) (types.ChannelState, error) {
	if err := c.validate(u); err != nil {
		return types.ChannelState{}, err
	}

	if u.FrequencyMHz != nil {
		if err := c.device.SetFrequency(ch, *u.FrequencyMHz); err != nil {
			return types.ChannelState{}, c.fail(err)
		}
	}
	if u.PhaseDeg != nil {
		if err := c.device.SetPhase(ch, *u.PhaseDeg); err != nil {
			return types.ChannelState{}, c.fail(err)
		}
	}
	if u.Gain != nil {
		if err := c.device.SetAmplitude(ch, *u.Gain); err != nil {
			return types.ChannelState{}, c.fail(err)
		}
	}

	c.mu.Lock()
	st, ok := c.channels[ch]
	if !ok {
		st = &types.ChannelState{Channel: ch.String()}
		c.channels[ch] = st
	}
	st.Merge(u)
	st.UpdatedAt = time.Now()
	snapshot := *st
	c.mu.Unlock()

	c.logger.Info("Channel updated", channelFields(snapshot)...)

	if persist && c.recorder != nil {
		if err := c.recorder.SaveChannel(ctx, snapshot); err != nil {
			c.logger.Error("Failed to persist channel settings",
				zap.String("channel", snapshot.Channel), zap.Error(err))
		}
	}

	c.emit(newEvent(EventChannelUpdate, channelData(snapshot)))
	return snapshot, nil
}

func (c *Controller) validate(u types.ChannelUpdate) error {
	if u.FrequencyMHz != nil {
		if _, err := synth.FrequencyWord(*u.FrequencyMHz, c.device.SampleRateMHz()); err != nil {
			return err
		}
	}
	if u.PhaseDeg != nil {
		if _, err := synth.PhaseWord(*u.PhaseDeg); err != nil {
			return err
		}
	}
	if u.Gain != nil {
		if _, err := synth.AmplitudeWord(*u.Gain); err != nil {
			return err
		}
	}
	return nil
}

// ReadRegister is a raw read; converter addresses go through the page map.
func (c *Controller) ReadRegister(chip synth.Chip, addr uint32) (uint32, error) {
	c.hw.Lock()
	defer c.hw.Unlock()

	if s := c.State(); s == StateClosed {
		return 0, fmt.Errorf("%w: cannot read register in state %s", ErrInvalidState, s)
	}
	return c.device.ReadRegister(chip, addr)
}

// WriteRegister is a raw write for bench work. It does not change the state.
func (c *Controller) WriteRegister(chip synth.Chip, addr, value uint32) error {
	c.hw.Lock()
	defer c.hw.Unlock()

	if s := c.State(); s == StateClosed {
		return fmt.Errorf("%w: cannot write register in state %s", ErrInvalidState, s)
	}
	if err := c.device.WriteRegister(chip, addr, value); err != nil {
		return err
	}

	c.logger.Info("Raw register write",
		zap.Stringer("chip", chip),
		zap.Uint32("address", addr),
		zap.Uint32("value", value))
	return nil
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(state State, errorMsg string, failure *types.Mismatch) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.errorMessage = errorMsg
	c.failure = failure
	c.lastStateChange = time.Now()
	c.mu.Unlock()

	if previous == state && errorMsg == "" {
		return
	}

	fields := []zap.Field{
		zap.String("state", string(state)),
		zap.String("previous_state", string(previous)),
	}
	if errorMsg != "" {
		c.logger.Error("Machine state changed", append(fields, zap.String("error", errorMsg))...)
	} else {
		c.logger.Info("Machine state changed", fields...)
	}

	data := map[string]any{
		"state":          string(state),
		"previous_state": string(previous),
	}
	if errorMsg != "" {
		data["error"] = errorMsg
	}
	if failure != nil {
		data["failure"] = mismatchData(failure)
	}
	c.emit(newEvent(EventMachineState, data))
}

// Channels returns the last applied settings of each channel in order.
func (c *Controller) Channels() []types.ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelsLocked()
}

func (c *Controller) channelsLocked() []types.ChannelState {
	out := make([]types.ChannelState, 0, len(c.channels))
	for _, st := range c.channels {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (c *Controller) GetStatus() MachineStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var failure *types.Mismatch
	if c.failure != nil {
		f := *c.failure
		failure = &f
	}
	return MachineStatus{
		State:           c.state,
		ErrorMessage:    c.errorMessage,
		Failure:         failure,
		SampleRateMHz:   c.device.SampleRateMHz(),
		Channels:        c.channelsLocked(),
		LastCommand:     c.lastCommand,
		LastStateChange: c.lastStateChange,
	}
}

func (c *Controller) startRun(ctx context.Context, run *types.SynthRun) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.StartRun(ctx, run); err != nil {
		c.logger.Error("Failed to record run start", zap.String("command", run.Command), zap.Error(err))
	}
}

func (c *Controller) finishRun(ctx context.Context, run *types.SynthRun, err error) {
	now := time.Now()
	run.CompletedAt = &now
	run.Status = types.RunStatusSuccess
	if err != nil {
		run.Status = types.RunStatusFailed
		run.Error = err.Error()
		var ve *synth.VerifyError
		if errors.As(err, &ve) {
			run.Failure = &types.Mismatch{
				Chip:     ve.Chip.String(),
				Address:  ve.Address,
				Expected: ve.Expected,
				Actual:   ve.Actual,
			}
		}
	}

	if c.recorder != nil {
		if rerr := c.recorder.FinishRun(ctx, run); rerr != nil {
			c.logger.Error("Failed to record run result", zap.String("command", run.Command), zap.Error(rerr))
		}
	}

	data := map[string]any{
		"run_id":   run.ID.String(),
		"command":  run.Command,
		"status":   string(run.Status),
		"duration": now.Sub(run.StartedAt).String(),
	}
	if run.Error != "" {
		data["error"] = run.Error
	}
	if run.Failure != nil {
		data["failure"] = mismatchData(run.Failure)
	}
	c.emit(newEvent(EventCommandResult, data))
}

func channelFields(s types.ChannelState) []zap.Field {
	fields := []zap.Field{zap.String("channel", s.Channel)}
	if s.FrequencyMHz != nil {
		fields = append(fields, zap.Float64("frequency_mhz", *s.FrequencyMHz))
	}
	if s.PhaseDeg != nil {
		fields = append(fields, zap.Float64("phase_deg", *s.PhaseDeg))
	}
	if s.Gain != nil {
		fields = append(fields, zap.Float64("gain", *s.Gain))
	}
	return fields
}

// channelData and mismatchData keep event payloads to plain values so they
// convert to protobuf Structs.
func channelData(s types.ChannelState) map[string]any {
	data := map[string]any{
		"channel":    s.Channel,
		"updated_at": s.UpdatedAt.Format(time.RFC3339Nano),
	}
	if s.FrequencyMHz != nil {
		data["frequency_mhz"] = *s.FrequencyMHz
	}
	if s.PhaseDeg != nil {
		data["phase_deg"] = *s.PhaseDeg
	}
	if s.Gain != nil {
		data["gain"] = *s.Gain
	}
	return data
}

func mismatchData(m *types.Mismatch) map[string]any {
	return map[string]any{
		"chip":     m.Chip,
		"address":  float64(m.Address),
		"expected": float64(m.Expected),
		"actual":   float64(m.Actual),
	}
}
