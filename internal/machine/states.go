package machine

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/types"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateReset         State = "reset"
	StateConfigured    State = "configured"
	StateReady         State = "ready"
	StateError         State = "error"
	StateClosed        State = "closed"
)

type Command string

const (
	CommandReset      Command = "reset"
	CommandConfigure  Command = "configure"
	CommandBringUp    Command = "bring_up"
	CommandInitialize Command = "initialize"
	CommandSync       Command = "sync"
	CommandRestore    Command = "restore"
	CommandClose      Command = "close"
)

var commands = []Command{
	CommandReset, CommandConfigure, CommandBringUp, CommandInitialize,
	CommandSync, CommandRestore, CommandClose,
}

func ParseCommand(s string) (Command, error) {
	for _, c := range commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, s)
}

// allowedFrom lists the states a command may start in. An empty list means
// every state except closed.
var allowedFrom = map[Command][]State{
	CommandConfigure: {StateReset, StateConfigured, StateReady},
	CommandBringUp:   {StateConfigured, StateReady},
	CommandSync:      {StateReady},
	CommandRestore:   {StateReady},
}

func (c Command) allowed(s State) bool {
	if s == StateClosed {
		return false
	}
	states, ok := allowedFrom[c]
	if !ok {
		return true
	}
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

type MachineStatus struct {
	State           State                `json:"state"`
	ErrorMessage    string               `json:"error_message,omitempty"`
	Failure         *types.Mismatch      `json:"failure,omitempty"`
	SampleRateMHz   float64              `json:"sample_rate_mhz"`
	Channels        []types.ChannelState `json:"channels"`
	LastCommand     Command              `json:"last_command,omitempty"`
	LastStateChange time.Time            `json:"last_state_change"`
}

// Event types published to subscribers.
const (
	EventMachineState  = "machine_state"
	EventChannelUpdate = "channel_update"
	EventCommandResult = "command_result"
	EventRegisterValue = "register_value"
)

type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

func newEvent(typ string, data map[string]any) Event {
	return Event{Type: typ, Data: data, Timestamp: time.Now()}
}
