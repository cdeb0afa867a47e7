// Package dispatch implements the node dispatch API: the WebSocket
// control plane nodes use to register and receive invocations, and the
// REST surface other services use to list nodes and invoke commands
// on them.
package dispatch

import "encoding/json"

// Tag identifies a frame's type within the register/invoke protocol.
type Tag string

const (
	TagRegister       Tag = "register"
	TagRegistered     Tag = "registered"
	TagInvoke         Tag = "invoke"
	TagInvokeResponse Tag = "invoke_response"
	TagPing           Tag = "ping"
	TagError          Tag = "error"
)

// Frame is the envelope every message on /ws/node carries.
type Frame struct {
	Type Tag `json:"type"`

	// register
	DeviceID     string   `json:"device_id,omitempty"`
	DisplayName  string   `json:"display_name,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	DeviceFamily string   `json:"device_family,omitempty"`
	Caps         []string `json:"caps,omitempty"`
	Commands     []string `json:"commands,omitempty"`

	// registered
	NodeID string `json:"node_id,omitempty"`

	// invoke
	CorrelationID string          `json:"correlation_id,omitempty"`
	Command       string          `json:"command,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`

	// invoke_response
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorFrame(code, message string) Frame {
	return Frame{Type: TagError, Code: code, Message: message}
}
