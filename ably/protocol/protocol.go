// Package protocol defines the realtime wire vocabulary: protocol message
// actions and flags, data and presence messages, and error details.
//
// Encoding is a codec concern; every type here carries json tags, which the
// CBOR codec honors as well.
package protocol

import (
	"fmt"
	"strconv"
)

// Action identifies the kind of a ProtocolMessage.
type Action int

const (
	ActionHeartbeat    Action = 0
	ActionAck          Action = 1
	ActionNack         Action = 2
	ActionConnect      Action = 3
	ActionConnected    Action = 4
	ActionDisconnect   Action = 5
	ActionDisconnected Action = 6
	ActionClose        Action = 7
	ActionClosed       Action = 8
	ActionError        Action = 9
	ActionAttach       Action = 10
	ActionAttached     Action = 11
	ActionDetach       Action = 12
	ActionDetached     Action = 13
	ActionPresence     Action = 14
	ActionMessage      Action = 15
	ActionSync         Action = 16
)

var actionNames = map[Action]string{
	ActionHeartbeat:    "HEARTBEAT",
	ActionAck:          "ACK",
	ActionNack:         "NACK",
	ActionConnect:      "CONNECT",
	ActionConnected:    "CONNECTED",
	ActionDisconnect:   "DISCONNECT",
	ActionDisconnected: "DISCONNECTED",
	ActionClose:        "CLOSE",
	ActionClosed:       "CLOSED",
	ActionError:        "ERROR",
	ActionAttach:       "ATTACH",
	ActionAttached:     "ATTACHED",
	ActionDetach:       "DETACH",
	ActionDetached:     "DETACHED",
	ActionPresence:     "PRESENCE",
	ActionMessage:      "MESSAGE",
	ActionSync:         "SYNC",
}

func (action Action) String() string {
	if name, ok := actionNames[action]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(action)) + ")"
}

// Flag is a bit set carried by ProtocolMessage.Flags.
type Flag int

const (
	// FlagHasPresence on ATTACHED means a presence sync follows.
	FlagHasPresence Flag = 1 << 0
	FlagHasBacklog  Flag = 1 << 1
	FlagResumed     Flag = 1 << 2
)

// ErrorInfo is the error detail carried by ERROR, NACK, DETACHED and
// CONNECTED messages and by REST error bodies.
type ErrorInfo struct {
	Code       int    `json:"code"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
	Href       string `json:"href,omitempty"`
}

func (info *ErrorInfo) Error() string {
	if info == nil {
		return "<nil>"
	}
	return fmt.Sprintf("[ErrorInfo code=%d statusCode=%d] %s", info.Code, info.StatusCode, info.Message)
}

// ProtocolMessage is the unit exchanged over a realtime connection.
type ProtocolMessage struct {
	Action        Action             `json:"action"`
	Flags         Flag               `json:"flags,omitempty"`
	ID            string             `json:"id,omitempty"`
	Channel       string             `json:"channel,omitempty"`
	ChannelSerial string             `json:"channelSerial,omitempty"`
	ConnectionID  string             `json:"connectionId,omitempty"`
	ConnectionKey string             `json:"connectionKey,omitempty"`
	MsgSerial     int64              `json:"msgSerial"`
	Count         int                `json:"count,omitempty"`
	Error         *ErrorInfo         `json:"error,omitempty"`
	Timestamp     int64              `json:"timestamp,omitempty"`
	Messages      []*Message         `json:"messages,omitempty"`
	Presence      []*PresenceMessage `json:"presence,omitempty"`
}

// HasFlag reports whether flag is set.
func (message *ProtocolMessage) HasFlag(flag Flag) bool {
	return message != nil && message.Flags&flag == flag
}

// SetFlag sets flag and returns message for chaining.
func (message *ProtocolMessage) SetFlag(flag Flag) *ProtocolMessage {
	message.Flags |= flag
	return message
}

// AckRequired reports whether the server acknowledges this message.
func (message *ProtocolMessage) AckRequired() bool {
	return message != nil && (message.Action == ActionMessage || message.Action == ActionPresence)
}

func (message *ProtocolMessage) String() string {
	if message == nil {
		return "<nil>"
	}
	return fmt.Sprintf("ProtocolMessage{action=%s channel=%q channelSerial=%q msgSerial=%d count=%d messages=%d presence=%d}",
		message.Action, message.Channel, message.ChannelSerial, message.MsgSerial, message.Count,
		len(message.Messages), len(message.Presence))
}
