package ably

import (
	"context"

	"github.com/Thejuampi/ably-client-go/ably/event"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// Presence is the membership API of a channel.
type Presence struct {
	channel *Channel
}

// Enter enters the channel as the client's own clientId.
func (presence *Presence) Enter(data any) *Result {
	return presence.EnterClient(presence.channel.host.clientID(), data)
}

// Update updates the data of the client's own member.
func (presence *Presence) Update(data any) *Result {
	return presence.UpdateClient(presence.channel.host.clientID(), data)
}

// Leave leaves the channel as the client's own clientId.
func (presence *Presence) Leave(data any) *Result {
	return presence.LeaveClient(presence.channel.host.clientID(), data)
}

// EnterClient enters on behalf of clientID.
func (presence *Presence) EnterClient(clientID string, data any) *Result {
	return presence.publish(protocol.PresenceEnter, clientID, data)
}

// UpdateClient updates the member of clientID.
func (presence *Presence) UpdateClient(clientID string, data any) *Result {
	return presence.publish(protocol.PresenceUpdate, clientID, data)
}

// LeaveClient leaves on behalf of clientID.
func (presence *Presence) LeaveClient(clientID string, data any) *Result {
	return presence.publish(protocol.PresenceLeave, clientID, data)
}

func (presence *Presence) publish(action protocol.PresenceAction, clientID string, data any) *Result {
	if clientID == "" {
		return resolvedResult(NewError(KindState, CodeInvalidClientID, "presence", action, "requires a clientId"))
	}
	return presence.channel.publishPresence(action, clientID, data)
}

// Subscribe registers listener for every presence event and attaches the
// channel when needed.
func (presence *Presence) Subscribe(listener func(message *protocol.PresenceMessage)) (*event.Subscription, *Result) {
	subscription := presence.channel.presenceEmitter.OnAll(listener)
	return subscription, presence.channel.attachForSubscribe()
}

// SubscribeAction registers listener for presence events with action.
func (presence *Presence) SubscribeAction(action protocol.PresenceAction, listener func(message *protocol.PresenceMessage)) (*event.Subscription, *Result) {
	subscription := presence.channel.presenceEmitter.On(action, listener)
	return subscription, presence.channel.attachForSubscribe()
}

// Unsubscribe removes a presence listener.
func (presence *Presence) Unsubscribe(subscription *event.Subscription) bool {
	return presence.channel.presenceEmitter.Off(subscription)
}

// SyncComplete reports whether the member set is confirmed by a finished sync.
func (presence *Presence) SyncComplete() bool {
	return presence.channel.presenceMap.SyncComplete()
}

// Members returns the current members without waiting for a sync.
func (presence *Presence) Members() []*protocol.PresenceMessage {
	return presence.channel.presenceMap.Members()
}

// Get returns the channel members. On an attached channel it waits for the
// running sync when waitForSync is set. A channel that is not attached is
// queried over REST instead.
func (presence *Presence) Get(ctx context.Context, waitForSync bool) ([]*protocol.PresenceMessage, error) {
	channel := presence.channel
	for {
		state := channel.State()
		switch state {
		case ChannelAttached:
		case ChannelDetaching, ChannelFailed:
			return nil, NewError(KindState, CodeChannelInvalidState, "cannot get presence on channel in state", state)
		default:
			return channel.host.rest().PresenceGet(ctx, channel.name, PresenceParams{})
		}

		done := channel.presenceMap.SyncDone()
		if !waitForSync || channel.presenceMap.SyncComplete() {
			return channel.presenceMap.Members(), nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, NewError(KindCancellation, CodeChannelOperationFailed, "presence get cancelled").WithCause(ctx.Err())
		}
	}
}
