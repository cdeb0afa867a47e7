// Package nodes implements the device registry and invocation broker:
// tracking connected node sessions, correlating asynchronous RPC
// responses, and enforcing the platform-scoped command policy.
package nodes

import (
	"encoding/json"
	"time"
)

// Session is a connected device with declared capabilities.
type Session struct {
	NodeID       string    `json:"node_id"`
	DeviceID     string    `json:"device_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	Platform     string    `json:"platform"`
	DeviceFamily string    `json:"device_family,omitempty"`
	Caps         []string  `json:"caps"`
	Commands     []string  `json:"commands"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`

	// send is the registry's handle to the node's WebSocket send half,
	// owned exclusively by the registry entry so that a REST handler
	// invoking a command can reach the socket without holding a
	// reference to the transport layer itself.
	send Sender
}

// Sender delivers a pre-encoded frame to a connected node's socket.
// Implemented by the WebSocket transport in the gateway package.
type Sender interface {
	Send(frame []byte) error
}

// Registration is the message a connecting device sends to claim a
// node_id.
type Registration struct {
	DeviceID     string   `json:"device_id"`
	DisplayName  string   `json:"display_name,omitempty"`
	Platform     string   `json:"platform"`
	DeviceFamily string   `json:"device_family,omitempty"`
	Caps         []string `json:"caps"`
	Commands     []string `json:"commands"`
}

// InvokeResult is the outcome of a command invocation on a node.
type InvokeResult struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
