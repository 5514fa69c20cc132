package types

import (
	"time"

	"github.com/google/uuid"
)

// ChannelUpdate carries any subset of a channel's physical quantities.
type ChannelUpdate struct {
	FrequencyMHz *float64 `json:"frequency_mhz,omitempty"`
	PhaseDeg     *float64 `json:"phase_deg,omitempty"`
	Gain         *float64 `json:"gain,omitempty"`
}

func (u ChannelUpdate) Empty() bool {
	return u.FrequencyMHz == nil && u.PhaseDeg == nil && u.Gain == nil
}

// ChannelState is the last value applied to each quantity of a channel.
// Nil fields were never set since the last reset.
type ChannelState struct {
	Channel      string    `json:"channel"`
	FrequencyMHz *float64  `json:"frequency_mhz,omitempty"`
	PhaseDeg     *float64  `json:"phase_deg,omitempty"`
	Gain         *float64  `json:"gain,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Merge applies the set fields of u.
func (s *ChannelState) Merge(u ChannelUpdate) {
	if u.FrequencyMHz != nil {
		v := *u.FrequencyMHz
		s.FrequencyMHz = &v
	}
	if u.PhaseDeg != nil {
		v := *u.PhaseDeg
		s.PhaseDeg = &v
	}
	if u.Gain != nil {
		v := *u.Gain
		s.Gain = &v
	}
}

// Update returns the state as an update that reproduces it.
func (s ChannelState) Update() ChannelUpdate {
	return ChannelUpdate{FrequencyMHz: s.FrequencyMHz, PhaseDeg: s.PhaseDeg, Gain: s.Gain}
}

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// SynthRun records one machine command against the hardware.
type SynthRun struct {
	ID          uuid.UUID  `json:"id"`
	Command     string     `json:"command"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Failure     *Mismatch  `json:"failure,omitempty"`
	ClockCount  int        `json:"clock_entries"`
	ConvCount   int        `json:"converter_entries"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Mismatch is a failed configuration read-back.
type Mismatch struct {
	Chip     string `json:"chip"`
	Address  uint32 `json:"address"`
	Expected uint32 `json:"expected"`
	Actual   uint32 `json:"actual"`
}

// RegisterValue is one raw register access.
type RegisterValue struct {
	Chip    string `json:"chip"`
	Address uint32 `json:"address"`
	Value   uint32 `json:"value"`
}
