package ably

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/Thejuampi/ably-client-go/ably/event"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

// channelHost is the channel's view of the client that owns it. The channel
// never owns the host.
type channelHost interface {
	connectionState() transport.ConnectionState
	send(message *protocol.ProtocolMessage) error
	// sendTracked assigns the next msgSerial and expects an ACK or NACK. It
	// returns the connection generation the serial belongs to.
	sendTracked(channel *Channel, message *protocol.ProtocolMessage) (uint64, error)
	releaseSerial(channel *Channel, generation uint64, msgSerial int64)
	clientID() string
	rest() *Rest
}

var errNotConnected = NewError(KindNetwork, CodeConnectionFailed, "connection not established")

// Channel is a named stream multiplexed over the realtime connection.
type Channel struct {
	lock  sync.Mutex
	name  string
	host  channelHost
	state ChannelState

	errorReason  error
	attachSerial string
	attachCycle  uint64
	detachFrom   ChannelState

	queue       *messageQueue
	presenceMap *PresenceMap
	presence    *Presence

	lastPresenceAction   protocol.PresenceAction
	lastPresenceClientID string
	lastPresenceData     any
	presenceEntered      bool

	attachResults []*Result
	detachResults []*Result

	timer           *clock.Timer
	timerGeneration uint64
	timeout         time.Duration
	clock           clock.Clock

	stateEmitter    *event.Emitter[ChannelState, ChannelStateChange]
	messageEmitter  *event.Emitter[string, *protocol.Message]
	presenceEmitter *event.Emitter[protocol.PresenceAction, *protocol.PresenceMessage]
	callbacks       *callbackQueue

	idempotent bool
	logger     *slog.Logger
	metrics    *metrics
}

func newChannel(name string, host channelHost, options ClientOptions, collectors *metrics) *Channel {
	channel := &Channel{
		name:            name,
		host:            host,
		state:           ChannelInitialized,
		timeout:         options.RealtimeRequestTimeout,
		clock:           options.Clock,
		stateEmitter:    event.NewEmitter[ChannelState, ChannelStateChange](),
		messageEmitter:  event.NewEmitter[string, *protocol.Message](),
		presenceEmitter: event.NewEmitter[protocol.PresenceAction, *protocol.PresenceMessage](),
		idempotent:      options.IdempotentPublishing,
		logger:          options.Logger.With(slog.String("channel", name)),
		metrics:         collectors,
	}
	channel.callbacks = newCallbackQueue(channel.logger)
	channel.queue = newMessageQueue(collectors.queuedMessages)
	channel.presenceMap = NewPresenceMap(channel.broadcastPresence)
	channel.presence = &Presence{channel: channel}
	return channel
}

// Name returns the channel name.
func (channel *Channel) Name() string {
	return channel.name
}

// State returns the current state.
func (channel *Channel) State() ChannelState {
	channel.lock.Lock()
	defer channel.lock.Unlock()
	return channel.state
}

// ErrorReason returns the error behind the latest failing transition.
func (channel *Channel) ErrorReason() error {
	channel.lock.Lock()
	defer channel.lock.Unlock()
	return channel.errorReason
}

// AttachSerial returns the serial of the latest ATTACHED, empty until
// the channel first attaches.
func (channel *Channel) AttachSerial() string {
	channel.lock.Lock()
	defer channel.lock.Unlock()
	return channel.attachSerial
}

// Presence returns the presence API of the channel.
func (channel *Channel) Presence() *Presence {
	return channel.presence
}

// Attach requests attachment. It resolves at once when already attached.
func (channel *Channel) Attach() *Result {
	channel.lock.Lock()
	result := channel.attachLocked()
	channel.lock.Unlock()
	channel.callbacks.drain()
	return result
}

// Detach requests detachment. It resolves at once when already detached.
func (channel *Channel) Detach() *Result {
	channel.lock.Lock()
	result := channel.detachLocked()
	channel.lock.Unlock()
	channel.callbacks.drain()
	return result
}

// Publish publishes a single message.
func (channel *Channel) Publish(name string, data any) *Result {
	return channel.PublishMessages(&protocol.Message{Name: name, Data: data})
}

// PublishMessages publishes messages in one protocol message. The result
// resolves when the server acknowledges it.
func (channel *Channel) PublishMessages(messages ...*protocol.Message) *Result {
	if len(messages) == 0 {
		return resolvedResult(nil)
	}
	outbound := make([]*protocol.Message, len(messages))
	baseID := ""
	if channel.idempotent {
		baseID = uuid.NewString()
	}
	for index, message := range messages {
		copied := *message
		if copied.ID == "" && baseID != "" {
			copied.ID = fmt.Sprintf("%s:%d", baseID, index)
		}
		outbound[index] = &copied
	}

	channel.lock.Lock()
	result := channel.publishLocked(&protocol.ProtocolMessage{
		Action:   protocol.ActionMessage,
		Channel:  channel.name,
		Messages: outbound,
	}, nil)
	channel.lock.Unlock()
	channel.callbacks.drain()
	return result
}

// Subscribe registers listener for every message and attaches the channel
// when it is initialized or detached.
func (channel *Channel) Subscribe(listener func(message *protocol.Message)) (*event.Subscription, *Result) {
	subscription := channel.messageEmitter.OnAll(listener)
	return subscription, channel.attachForSubscribe()
}

// SubscribeName registers listener for messages called name.
func (channel *Channel) SubscribeName(name string, listener func(message *protocol.Message)) (*event.Subscription, *Result) {
	subscription := channel.messageEmitter.On(name, listener)
	return subscription, channel.attachForSubscribe()
}

// Unsubscribe removes a message listener.
func (channel *Channel) Unsubscribe(subscription *event.Subscription) bool {
	return channel.messageEmitter.Off(subscription)
}

// On registers listener for transitions into state.
func (channel *Channel) On(state ChannelState, listener func(change ChannelStateChange)) *event.Subscription {
	return channel.stateEmitter.On(state, listener)
}

// Once registers listener for the next transition into state.
func (channel *Channel) Once(state ChannelState, listener func(change ChannelStateChange)) *event.Subscription {
	return channel.stateEmitter.Once(state, listener)
}

// OnAny registers listener for every transition.
func (channel *Channel) OnAny(listener func(change ChannelStateChange)) *event.Subscription {
	return channel.stateEmitter.OnAll(listener)
}

// Off removes a state listener.
func (channel *Channel) Off(subscription *event.Subscription) bool {
	return channel.stateEmitter.Off(subscription)
}

// History queries stored messages over REST.
func (channel *Channel) History(ctx context.Context, params HistoryParams) ([]*protocol.Message, error) {
	return channel.host.rest().History(ctx, channel.name, params)
}

func (channel *Channel) attachForSubscribe() *Result {
	channel.lock.Lock()
	var result *Result
	switch channel.state {
	case ChannelInitialized, ChannelDetached, ChannelAttaching:
		result = channel.attachLocked()
	default:
		result = resolvedResult(nil)
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
	return result
}

func (channel *Channel) checkConnectionUsable() error {
	state := channel.host.connectionState()
	if state.Usable() {
		return nil
	}
	switch state {
	case transport.StateClosing, transport.StateClosed:
		return NewError(KindState, CodeConnectionClosed, "connection is", state)
	case transport.StateSuspended:
		return NewError(KindState, CodeConnectionSuspended, "connection is", state)
	case transport.StateFailed:
		return NewError(KindState, CodeConnectionFailed, "connection is", state)
	}
	return nil
}

func (channel *Channel) attachLocked() *Result {
	if err := channel.checkConnectionUsable(); err != nil {
		return resolvedResult(err)
	}
	switch channel.state {
	case ChannelAttached:
		return resolvedResult(nil)
	case ChannelAttaching:
		return channel.awaitAttach()
	case ChannelDetaching:
		channel.resolveDetach(NewError(KindState, CodeChannelInvalidState, "detach superseded by attach"))
	}
	result := channel.awaitAttach()
	channel.transition(ChannelAttaching, nil)
	channel.sendAttach()
	return result
}

func (channel *Channel) detachLocked() *Result {
	switch channel.state {
	case ChannelInitialized, ChannelDetached:
		return resolvedResult(nil)
	case ChannelDetaching:
		return channel.awaitDetach()
	case ChannelFailed:
		return resolvedResult(NewError(KindState, CodeChannelInvalidState, "cannot detach channel in state", channel.state))
	case ChannelSuspended:
		channel.setDetached(nil)
		return resolvedResult(nil)
	}
	result := channel.awaitDetach()
	channel.resolveAttach(NewError(KindState, CodeChannelDetached, "attach superseded by detach"))
	channel.detachFrom = channel.state
	channel.transition(ChannelDetaching, nil)
	channel.sendDetach()
	return result
}

// checkPublishable is the connection guard for publish and presence. A
// suspended channel keeps queueing while its connection is suspended.
func (channel *Channel) checkPublishable() error {
	err := channel.checkConnectionUsable()
	if err != nil && channel.state == ChannelSuspended && channel.host.connectionState() == transport.StateSuspended {
		return nil
	}
	return err
}

func (channel *Channel) publishLocked(message *protocol.ProtocolMessage, onResolve func(err error)) *Result {
	if err := channel.checkPublishable(); err != nil {
		return resolvedResult(err)
	}
	switch channel.state {
	case ChannelDetaching, ChannelDetached, ChannelFailed:
		return resolvedResult(NewError(KindState, CodeChannelInvalidState, "cannot publish on channel in state", channel.state))
	}

	result := newResult()
	entry := channel.queue.enqueue(message, result)
	entry.onResolve = onResolve
	if channel.state.queues() {
		if channel.state == ChannelInitialized {
			channel.attachLocked()
		}
		return result
	}
	if err := channel.sendEntry(entry); err != nil {
		channel.logger.Debug("publish deferred until connected", slog.Any("error", err))
	}
	return result
}

func (channel *Channel) sendAttach() {
	if channel.host.connectionState() != transport.StateConnected {
		return
	}
	if err := channel.host.send(&protocol.ProtocolMessage{Action: protocol.ActionAttach, Channel: channel.name}); err != nil {
		channel.logger.Warn("send attach failed", slog.Any("error", err))
		return
	}
	channel.startTimer()
}

func (channel *Channel) sendDetach() {
	if channel.host.connectionState() != transport.StateConnected {
		return
	}
	if err := channel.host.send(&protocol.ProtocolMessage{Action: protocol.ActionDetach, Channel: channel.name}); err != nil {
		channel.logger.Warn("send detach failed", slog.Any("error", err))
		return
	}
	channel.startTimer()
}

func (channel *Channel) sendEntry(entry *queuedMessage) error {
	if channel.host.connectionState() != transport.StateConnected {
		return errNotConnected
	}
	if entry.sent {
		channel.host.releaseSerial(channel, entry.generation, entry.msgSerial)
	}
	generation, err := channel.host.sendTracked(channel, entry.message)
	if err != nil {
		return err
	}
	entry.sent = true
	entry.generation = generation
	entry.msgSerial = entry.message.MsgSerial
	entry.sentCycle = channel.attachCycle
	return nil
}

// sendQueuedMessages sends, in order, the entries not yet sent in the
// current attach cycle.
func (channel *Channel) sendQueuedMessages() {
	if channel.queue.unsent(channel.attachCycle) == 0 {
		return
	}
	if err := channel.queue.flush(channel.attachCycle, channel.sendEntry); err != nil {
		channel.logger.Debug("flush interrupted", slog.Any("error", err))
	}
}

func (channel *Channel) failQueuedMessages(err error) {
	if count := channel.queue.failAll(err); count > 0 {
		channel.logger.Debug("failed queued messages", slog.Int("count", count), slog.Any("error", err))
	}
}

// acknowledge resolves the entry sent with msgSerial on the connection
// generation.
func (channel *Channel) acknowledge(generation uint64, msgSerial int64, err error) {
	channel.lock.Lock()
	if !channel.queue.acknowledge(generation, msgSerial, err) {
		channel.logger.Debug("ack for unknown message", slog.Int64("msgSerial", msgSerial))
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
}

func (channel *Channel) onChannelMessage(message *protocol.ProtocolMessage) {
	channel.lock.Lock()
	switch message.Action {
	case protocol.ActionAttached:
		channel.setAttached(message)
	case protocol.ActionDetached:
		channel.onDetached(message)
	case protocol.ActionError:
		channel.onError(message)
	case protocol.ActionMessage:
		channel.onMessage(message)
	case protocol.ActionPresence:
		channel.onPresence(message)
	case protocol.ActionSync:
		channel.onSync(message)
	default:
		channel.logger.Debug("ignoring channel message", slog.String("action", message.Action.String()))
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
}

func (channel *Channel) setAttached(message *protocol.ProtocolMessage) {
	switch channel.state {
	case ChannelAttaching, ChannelAttached:
	default:
		channel.logger.Debug("ignoring ATTACHED", slog.String("state", channel.state.String()))
		return
	}

	channel.attachSerial = message.ChannelSerial
	resumed := message.HasFlag(protocol.FlagResumed)
	newCycle := channel.state == ChannelAttaching
	if newCycle {
		channel.stopTimer()
		channel.attachCycle++
		var reason error
		if message.Error != nil {
			reason = errorFromInfo(message.Error)
		}
		channel.transitionResumed(ChannelAttached, reason, resumed)
		channel.resolveAttach(nil)
	}

	if newCycle || !resumed || channel.presenceMap.Stale() {
		channel.presenceMap.StartSync()
		if !message.HasFlag(protocol.FlagHasPresence) {
			channel.presenceMap.EndSync()
		}
	}

	channel.sendQueuedMessages()
	if newCycle && !resumed {
		channel.reenterPresence()
	}
}

func (channel *Channel) onDetached(message *protocol.ProtocolMessage) {
	switch channel.state {
	case ChannelInitialized, ChannelDetached, ChannelFailed:
		channel.logger.Debug("ignoring DETACHED", slog.String("state", channel.state.String()))
		return
	}
	var reason error
	if message.Error != nil {
		reason = errorFromInfo(message.Error)
	}
	channel.setDetached(reason)
}

func (channel *Channel) setDetached(reason error) {
	channel.stopTimer()
	queueErr := reason
	if queueErr == nil {
		queueErr = NewError(KindState, CodeChannelDetached, "channel detached")
	}
	channel.failQueuedMessages(queueErr)
	channel.presenceMap.Clear()
	channel.presenceEntered = false
	channel.resolveAttach(queueErr)
	channel.resolveDetach(nil)
	channel.transition(ChannelDetached, reason)
}

func (channel *Channel) onError(message *protocol.ProtocolMessage) {
	switch channel.state {
	case ChannelAttached, ChannelAttaching, ChannelDetaching, ChannelSuspended:
	default:
		channel.logger.Debug("ignoring ERROR", slog.String("state", channel.state.String()))
		return
	}
	channel.setFailed(errorFromInfo(message.Error))
}

func (channel *Channel) setFailed(err error) {
	channel.stopTimer()
	channel.failQueuedMessages(err)
	channel.presenceMap.Clear()
	channel.presenceEntered = false
	channel.resolveAttach(err)
	channel.resolveDetach(err)
	channel.transition(ChannelFailed, err)
}

func (channel *Channel) setSuspended(reason error) {
	switch channel.state {
	case ChannelAttached, ChannelAttaching:
		channel.stopTimer()
		channel.presenceMap.MarkStale()
		channel.resolveAttach(reason)
		channel.transition(ChannelSuspended, reason)
	case ChannelDetaching:
		channel.setDetached(nil)
	}
}

func (channel *Channel) onMessage(message *protocol.ProtocolMessage) {
	if channel.state != ChannelAttached {
		channel.logger.Debug("dropping message while not attached", slog.String("state", channel.state.String()))
		return
	}
	for index, item := range message.Messages {
		if item == nil {
			continue
		}
		delivered := *item
		if delivered.ID == "" && message.ID != "" {
			delivered.ID = fmt.Sprintf("%s:%d", message.ID, index)
		}
		if delivered.ConnectionID == "" {
			delivered.ConnectionID = message.ConnectionID
		}
		if delivered.Timestamp == 0 {
			delivered.Timestamp = message.Timestamp
		}
		channel.callbacks.push(func() {
			channel.messageEmitter.Emit(delivered.Name, &delivered)
		})
	}
}

func (channel *Channel) onPresence(message *protocol.ProtocolMessage) {
	if channel.state != ChannelAttached {
		channel.logger.Debug("dropping presence while not attached", slog.String("state", channel.state.String()))
		return
	}
	if message.ChannelSerial != "" && channel.presenceMap.SyncInProgress() {
		channel.onSync(message)
		return
	}
	for index, item := range message.Presence {
		if member := normalizePresence(message, index, item); member != nil {
			channel.presenceMap.Put(member)
		}
	}
}

// onSync applies one sync page. A page arriving with no sync running
// starts one.
func (channel *Channel) onSync(message *protocol.ProtocolMessage) {
	if channel.state != ChannelAttached {
		channel.logger.Debug("dropping sync while not attached", slog.String("state", channel.state.String()))
		return
	}
	if !channel.presenceMap.SyncInProgress() {
		channel.presenceMap.StartSync()
	}
	channel.presenceMap.SetSyncSerial(message.ChannelSerial)
	for index, item := range message.Presence {
		if member := normalizePresence(message, index, item); member != nil {
			channel.presenceMap.Put(member)
		}
	}
	if _, _, complete := protocol.ParseSyncSerial(message.ChannelSerial); complete {
		channel.presenceMap.EndSync()
	}
}

func normalizePresence(message *protocol.ProtocolMessage, index int, item *protocol.PresenceMessage) *protocol.PresenceMessage {
	if item == nil {
		return nil
	}
	member := item.Clone()
	if member.ConnectionID == "" {
		member.ConnectionID = message.ConnectionID
	}
	if member.ID == "" && message.ID != "" {
		member.ID = fmt.Sprintf("%s:%d", message.ID, index)
	}
	if member.Timestamp == 0 {
		member.Timestamp = message.Timestamp
	}
	return member
}

func (channel *Channel) broadcastPresence(message *protocol.PresenceMessage) {
	channel.callbacks.push(func() {
		channel.presenceEmitter.Emit(message.Action, message)
	})
}

// requestContinueSync asks the server to resume an interrupted sync from
// the last page received.
func (channel *Channel) requestContinueSync() {
	if !channel.presenceMap.SyncInProgress() {
		return
	}
	err := channel.host.send(&protocol.ProtocolMessage{
		Action:        protocol.ActionSync,
		Channel:       channel.name,
		ChannelSerial: channel.presenceMap.SyncSerial(),
	})
	if err != nil {
		channel.logger.Warn("request sync continuation failed", slog.Any("error", err))
	}
}

func (channel *Channel) onConnectionStateChange(change transport.StateChange, resumed bool) {
	channel.lock.Lock()
	switch change.Current {
	case transport.StateConnected:
		channel.onConnected(resumed)
	case transport.StateSuspended:
		channel.setSuspended(connectionError(KindState, CodeConnectionSuspended, "connection suspended", change.Reason))
	case transport.StateFailed:
		switch channel.state {
		case ChannelAttached, ChannelAttaching, ChannelDetaching, ChannelSuspended:
			channel.setFailed(connectionError(KindNetwork, CodeConnectionFailed, "connection failed", change.Reason))
		}
	case transport.StateClosed:
		switch channel.state {
		case ChannelAttached, ChannelAttaching, ChannelDetaching, ChannelSuspended:
			channel.setDetached(connectionError(KindState, CodeConnectionClosed, "connection closed", change.Reason))
		}
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
}

func (channel *Channel) onConnected(resumed bool) {
	switch channel.state {
	case ChannelAttaching:
		channel.sendAttach()
	case ChannelSuspended:
		channel.transition(ChannelAttaching, nil)
		channel.sendAttach()
	case ChannelAttached:
		if !resumed {
			channel.transition(ChannelAttaching, nil)
			channel.sendAttach()
			return
		}
		channel.sendQueuedMessages()
		channel.requestContinueSync()
	case ChannelDetaching:
		channel.sendDetach()
	}
}

func (channel *Channel) reenterPresence() {
	if !channel.presenceEntered {
		return
	}
	switch channel.lastPresenceAction {
	case protocol.PresenceEnter, protocol.PresenceUpdate:
	default:
		return
	}
	channel.logger.Info("re-entering presence", slog.String("clientId", channel.lastPresenceClientID))
	message := presenceProtocolMessage(channel.name, protocol.PresenceEnter, channel.lastPresenceClientID, channel.lastPresenceData)
	entry := channel.queue.enqueue(message, newResult())
	entry.onResolve = func(err error) {
		if err != nil {
			channel.logger.Warn("presence re-enter failed", slog.Any("error", err))
		}
	}
	if err := channel.sendEntry(entry); err != nil {
		channel.logger.Debug("re-enter deferred until connected", slog.Any("error", err))
	}
}

// publishPresence sends a presence action for clientID through the queue.
func (channel *Channel) publishPresence(action protocol.PresenceAction, clientID string, data any) *Result {
	message := presenceProtocolMessage(channel.name, action, clientID, data)
	own := clientID == channel.host.clientID()

	channel.lock.Lock()
	var onResolve func(err error)
	if own {
		onResolve = func(err error) {
			if err == nil {
				channel.presenceEntered = action != protocol.PresenceLeave
			}
		}
	}
	result := channel.publishLocked(message, onResolve)
	if own && result.Err() == nil {
		channel.lastPresenceAction = action
		channel.lastPresenceClientID = clientID
		channel.lastPresenceData = data
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
	return result
}

func presenceProtocolMessage(channelName string, action protocol.PresenceAction, clientID string, data any) *protocol.ProtocolMessage {
	return &protocol.ProtocolMessage{
		Action:  protocol.ActionPresence,
		Channel: channelName,
		Presence: []*protocol.PresenceMessage{
			{Action: action, ClientID: clientID, Data: data},
		},
	}
}

func (channel *Channel) transition(state ChannelState, reason error) {
	channel.transitionResumed(state, reason, false)
}

func (channel *Channel) transitionResumed(state ChannelState, reason error, resumed bool) {
	previous := channel.state
	if previous == state {
		return
	}
	channel.state = state
	if reason != nil {
		channel.errorReason = reason
	}
	channel.metrics.channelTransitions.WithLabelValues(state.String()).Inc()
	attrs := []any{slog.String("from", previous.String()), slog.String("to", state.String())}
	if reason != nil {
		attrs = append(attrs, slog.Any("reason", reason))
	}
	channel.logger.Info("channel state changed", attrs...)

	change := ChannelStateChange{Previous: previous, Current: state, Reason: reason, Resumed: resumed}
	channel.callbacks.push(func() {
		channel.stateEmitter.Emit(state, change)
	})
}

func (channel *Channel) awaitAttach() *Result {
	result := newResult()
	channel.attachResults = append(channel.attachResults, result)
	return result
}

func (channel *Channel) awaitDetach() *Result {
	result := newResult()
	channel.detachResults = append(channel.detachResults, result)
	return result
}

func (channel *Channel) resolveAttach(err error) {
	results := channel.attachResults
	channel.attachResults = nil
	for _, result := range results {
		result.resolve(err)
	}
}

func (channel *Channel) resolveDetach(err error) {
	results := channel.detachResults
	channel.detachResults = nil
	for _, result := range results {
		result.resolve(err)
	}
}

func (channel *Channel) startTimer() {
	channel.stopTimer()
	generation := channel.timerGeneration
	channel.timer = channel.clock.AfterFunc(channel.timeout, func() {
		channel.onTimeout(generation)
	})
}

func (channel *Channel) stopTimer() {
	channel.timerGeneration++
	if channel.timer != nil {
		channel.timer.Stop()
		channel.timer = nil
	}
}

func (channel *Channel) onTimeout(generation uint64) {
	channel.lock.Lock()
	if generation != channel.timerGeneration {
		channel.lock.Unlock()
		return
	}
	channel.timer = nil
	switch channel.state {
	case ChannelAttaching:
		channel.setFailed(NewError(KindTimeout, CodeAttachTimeout, "attach timed out after", channel.timeout))
	case ChannelDetaching:
		err := NewError(KindTimeout, CodeDetachTimeout, "detach timed out after", channel.timeout)
		channel.resolveDetach(err)
		if channel.detachFrom == ChannelAttached {
			channel.transition(ChannelAttached, err)
		} else {
			channel.setDetached(err)
		}
	}
	channel.lock.Unlock()
	channel.callbacks.drain()
}

// connectionError wraps a connection level reason for channel consumers.
func connectionError(kind ErrorKind, code int, message string, reason error) *Error {
	return NewError(kind, code, message).WithCause(reason)
}
