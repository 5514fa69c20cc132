package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Machine events
	MessageTypeMachineState  MessageType = "machine_state"
	MessageTypeChannelUpdate MessageType = "channel_update"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeRegisterValue MessageType = "register_value"

	// Replies to a single client
	MessageTypeSystemStatus MessageType = "system_status"
	MessageTypeAuthSuccess  MessageType = "auth_success"
	MessageTypeAuthFailed   MessageType = "auth_failed"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeError        MessageType = "error"
)

// Client requests
const (
	requestAuth      = "auth"
	requestSubscribe = "subscribe"
	requestStatus    = "status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewEventMessage wraps a machine event, keeping the time it happened.
func NewEventMessage(eventType string, at time.Time, data map[string]any) Message {
	return Message{
		Type:      MessageType(eventType),
		Timestamp: at,
		Data:      data,
	}
}

// clientRequest is anything a client sends after connecting.
type clientRequest struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Events []string `json:"events,omitempty"`
}

type authSuccessData struct {
	Permissions []string `json:"permissions"`
}

type reasonData struct {
	Reason string `json:"reason"`
}

type subscribedData struct {
	Events []string `json:"events"`
}
