package machine

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/synth"
	"go.uber.org/zap"
)

// WatchRegister is a register the monitor reads on every cycle.
type WatchRegister struct {
	Name    string
	Chip    synth.Chip
	Address uint32
}

// Monitor polls status registers while the machine is ready and publishes
// each value as a register_value event.
type Monitor struct {
	controller *Controller
	registers  []WatchRegister
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex

	last map[string]uint32
}

func NewMonitor(controller *Controller, registers []WatchRegister, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		controller: controller,
		registers:  registers,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
		last:       make(map[string]uint32),
	}
}

// Start begins polling; it is a no-op without registers or interval.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.interval <= 0 || len(m.registers) == 0 {
		return
	}

	m.running = true
	m.wg.Add(1)
	go m.pollLoop()

	m.logger.Info("Register monitor started",
		zap.Int("registers", len(m.registers)),
		zap.Duration("interval", m.interval))
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.logger.Info("Register monitor stopped")
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll reads every watched register once if the machine is ready and
// returns how many reads succeeded.
func (m *Monitor) Poll() int {
	if m.controller.State() != StateReady {
		return 0
	}

	n := 0
	for _, reg := range m.registers {
		value, err := m.controller.ReadRegister(reg.Chip, reg.Address)
		if err != nil {
			m.logger.Error("Poll failed",
				zap.String("register", reg.Name),
				zap.Error(err))
			continue
		}
		n++

		if prev, seen := m.last[reg.Name]; seen && prev != value {
			m.logger.Info("Register changed",
				zap.String("register", reg.Name),
				zap.Uint32("previous", prev),
				zap.Uint32("value", value))
		}
		m.last[reg.Name] = value

		m.controller.emit(newEvent(EventRegisterValue, map[string]any{
			"name":    reg.Name,
			"chip":    reg.Chip.String(),
			"address": float64(reg.Address),
			"value":   float64(value),
		}))
	}
	return n
}
