package ably

import "strconv"

// ChannelState is the attach lifecycle state of a Channel.
type ChannelState int

const (
	ChannelInitialized ChannelState = iota
	ChannelAttaching
	ChannelAttached
	ChannelDetaching
	ChannelDetached
	ChannelSuspended
	ChannelFailed
)

func (state ChannelState) String() string {
	switch state {
	case ChannelInitialized:
		return "INITIALIZED"
	case ChannelAttaching:
		return "ATTACHING"
	case ChannelAttached:
		return "ATTACHED"
	case ChannelDetaching:
		return "DETACHING"
	case ChannelDetached:
		return "DETACHED"
	case ChannelSuspended:
		return "SUSPENDED"
	case ChannelFailed:
		return "FAILED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(state)) + ")"
}

// queues reports whether publishes are buffered rather than sent or
// rejected in state.
func (state ChannelState) queues() bool {
	return state == ChannelInitialized || state == ChannelAttaching || state == ChannelSuspended
}

// ChannelStateChange is emitted on every channel state transition.
type ChannelStateChange struct {
	Previous ChannelState
	Current  ChannelState
	// Reason is the error that caused the change, if any.
	Reason error
	// Resumed is set on ATTACHED when the server kept message continuity.
	Resumed bool
}
