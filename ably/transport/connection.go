// Package transport defines the connection collaborator consumed by the
// realtime client, plus host rotation and reconnect delay strategies shared
// by transports and the REST executor.
package transport

import (
	"strconv"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ConnectionState is the lifecycle state of a realtime connection.
type ConnectionState int

const (
	StateInitialized ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateSuspended
	StateClosing
	StateClosed
	StateFailed
)

func (state ConnectionState) String() string {
	switch state {
	case StateInitialized:
		return "INITIALIZED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(state)) + ")"
}

// Usable reports whether channel operations may be requested in state.
// Closing, Closed, Suspended and Failed reject them outright.
func (state ConnectionState) Usable() bool {
	switch state {
	case StateClosing, StateClosed, StateSuspended, StateFailed:
		return false
	}
	return true
}

// StateChange describes a connection state transition.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Reason   error
	// ConnectionID and ConnectionKey are set when Current is StateConnected.
	ConnectionID  string
	ConnectionKey string
}

// Sink receives inbound traffic from a Connection. Calls are serialized: a
// Connection never invokes Sink methods concurrently.
type Sink interface {
	OnProtocolMessage(message *protocol.ProtocolMessage)
	OnConnectionStateChange(change StateChange)
}

// Connection is the physical realtime link.
type Connection interface {
	// Send writes message. It must not call back into the Sink.
	Send(message *protocol.ProtocolMessage) error
	State() ConnectionState
	// Listen sets the Sink for inbound messages and state changes.
	Listen(sink Sink)
	Close() error
}
