package ably

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/Thejuampi/ably-client-go/ably/event"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
	"github.com/Thejuampi/ably-client-go/ably/transport/websocket"
)

// Realtime is the realtime client. It owns the connection and the channels
// and routes inbound protocol messages to them.
type Realtime struct {
	lock          sync.Mutex
	options       ClientOptions
	restClient    *Rest
	connection    transport.Connection
	channels      *Channels
	state         transport.ConnectionState
	connectionID  string
	connectionKey string
	errorReason   error
	msgSerial     int64
	pendingAcks   map[int64]*Channel
	// generation counts non-resumed connections; msgSerials are only
	// meaningful within one generation.
	generation uint64

	stateEmitter *event.Emitter[transport.ConnectionState, transport.StateChange]
	callbacks    *callbackQueue
	logger       *slog.Logger
	metrics      *metrics
}

type connector interface {
	Connect() error
}

// NewRealtime returns a realtime client. Unless options.Connection is set,
// it uses the websocket transport against the realtime host and the
// fallback hosts.
func NewRealtime(options ClientOptions) (*Realtime, error) {
	options = options.withDefaults()
	if options.authMode() == AuthNone {
		return nil, NewError(KindAuth, CodeNoCredentials, "no key, token or token source configured")
	}
	collectors := newMetrics(options.MetricsRegisterer)
	auth := NewAuth(options)
	realtime := &Realtime{
		options:      options,
		restClient:   newRest(options, auth, collectors),
		pendingAcks:  make(map[int64]*Channel),
		stateEmitter: event.NewEmitter[transport.ConnectionState, transport.StateChange](),
		callbacks:    newCallbackQueue(options.Logger),
		logger:       options.Logger,
		metrics:      collectors,
	}
	realtime.channels = &Channels{realtime: realtime, channels: make(map[string]*Channel)}

	connection := options.Connection
	if connection == nil {
		connection = websocket.New(websocket.Options{
			Hosts:                    transport.NewHostChooser(options.RealtimeHost, options.FallbackHosts...),
			Scheme:                   websocketScheme(options.Scheme),
			Port:                     options.Port,
			Codec:                    options.codec(),
			Params:                   realtime.connectParams,
			Logger:                   options.Logger,
			Clock:                    options.Clock,
			DisconnectedRetryTimeout: options.DisconnectedRetryTimeout,
			RetryJitter:              options.RetryJitter,
			SuspendedRetryTimeout:    options.SuspendedRetryTimeout,
			ConnectionStateTTL:       options.ConnectionStateTTL,
			RequestTimeout:           options.RealtimeRequestTimeout,
		})
	}
	realtime.connection = connection
	realtime.state = connection.State()
	connection.Listen(realtime)

	if options.AutoConnect {
		if err := realtime.Connect(); err != nil {
			return nil, err
		}
	}
	return realtime, nil
}

// Connect starts connecting when the transport supports it.
func (realtime *Realtime) Connect() error {
	if dialer, ok := realtime.connection.(connector); ok {
		return dialer.Connect()
	}
	return nil
}

// Close closes the connection.
func (realtime *Realtime) Close() error {
	return realtime.connection.Close()
}

// Channels returns the channel registry.
func (realtime *Realtime) Channels() *Channels {
	return realtime.channels
}

// Rest returns the REST client sharing this client's auth.
func (realtime *Realtime) Rest() *Rest {
	return realtime.restClient
}

// Auth returns the authenticator.
func (realtime *Realtime) Auth() *Auth {
	return realtime.restClient.auth
}

// ConnectionState returns the latest connection state.
func (realtime *Realtime) ConnectionState() transport.ConnectionState {
	return realtime.connectionState()
}

// ConnectionID returns the id of the current or last connection.
func (realtime *Realtime) ConnectionID() string {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	return realtime.connectionID
}

// ErrorReason returns the reason of the latest connection state change.
func (realtime *Realtime) ErrorReason() error {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	return realtime.errorReason
}

// OnConnectionState registers listener for transitions into state.
func (realtime *Realtime) OnConnectionState(state transport.ConnectionState, listener func(change transport.StateChange)) *event.Subscription {
	return realtime.stateEmitter.On(state, listener)
}

// OnAnyConnectionState registers listener for every connection transition.
func (realtime *Realtime) OnAnyConnectionState(listener func(change transport.StateChange)) *event.Subscription {
	return realtime.stateEmitter.OnAll(listener)
}

// OnProtocolMessage implements transport.Sink.
func (realtime *Realtime) OnProtocolMessage(message *protocol.ProtocolMessage) {
	if message == nil {
		return
	}
	switch message.Action {
	case protocol.ActionHeartbeat:
		return
	case protocol.ActionAck:
		realtime.acknowledge(message.MsgSerial, message.Count, nil)
		return
	case protocol.ActionNack:
		var err error = NewError(KindProtocol, CodeChannelOperationFailed, "message rejected")
		if message.Error != nil {
			err = errorFromInfo(message.Error)
		}
		realtime.acknowledge(message.MsgSerial, message.Count, err)
		return
	case protocol.ActionConnect, protocol.ActionConnected, protocol.ActionDisconnect,
		protocol.ActionDisconnected, protocol.ActionClose, protocol.ActionClosed:
		realtime.logger.Debug("connection message handled by transport", slog.String("action", message.Action.String()))
		return
	}

	if message.Channel == "" {
		if message.Action == protocol.ActionError {
			realtime.logger.Warn("connection error", slog.Any("error", errorFromInfo(message.Error)))
			return
		}
		realtime.logger.Debug("dropping message without channel", slog.String("action", message.Action.String()))
		return
	}
	channel := realtime.channels.existing(message.Channel)
	if channel == nil {
		realtime.logger.Debug("dropping message for unknown channel",
			slog.String("channel", message.Channel),
			slog.String("action", message.Action.String()))
		return
	}
	channel.onChannelMessage(message)
}

// OnConnectionStateChange implements transport.Sink.
func (realtime *Realtime) OnConnectionStateChange(change transport.StateChange) {
	realtime.lock.Lock()
	resumed := false
	switch change.Current {
	case transport.StateConnected:
		resumed = realtime.connectionID != "" && change.ConnectionID == realtime.connectionID
		if !resumed {
			realtime.msgSerial = 0
			realtime.pendingAcks = make(map[int64]*Channel)
			realtime.generation++
		}
		realtime.connectionID = change.ConnectionID
		realtime.connectionKey = change.ConnectionKey
	case transport.StateClosed, transport.StateFailed:
		realtime.pendingAcks = make(map[int64]*Channel)
	}
	change.Previous = realtime.state
	realtime.state = change.Current
	if change.Reason != nil {
		realtime.errorReason = change.Reason
	}
	realtime.callbacks.push(func() {
		realtime.stateEmitter.Emit(change.Current, change)
	})
	realtime.lock.Unlock()

	attrs := []any{slog.String("from", change.Previous.String()), slog.String("to", change.Current.String())}
	if change.Reason != nil {
		attrs = append(attrs, slog.Any("reason", change.Reason))
	}
	realtime.logger.Info("connection state changed", attrs...)
	realtime.callbacks.drain()

	if change.Previous == change.Current && change.Current != transport.StateConnected {
		return
	}
	for _, channel := range realtime.channels.all() {
		channel.onConnectionStateChange(change, resumed)
	}
}

type ackTarget struct {
	msgSerial int64
	channel   *Channel
}

// acknowledge resolves count messages starting at msgSerial, in serial
// order.
func (realtime *Realtime) acknowledge(msgSerial int64, count int, err error) {
	if count <= 0 {
		count = 1
	}
	realtime.lock.Lock()
	generation := realtime.generation
	targets := make([]ackTarget, 0, count)
	for serial := msgSerial; serial < msgSerial+int64(count); serial++ {
		if channel, ok := realtime.pendingAcks[serial]; ok {
			delete(realtime.pendingAcks, serial)
			targets = append(targets, ackTarget{msgSerial: serial, channel: channel})
		}
	}
	realtime.lock.Unlock()

	for _, target := range targets {
		target.channel.acknowledge(generation, target.msgSerial, err)
	}
}

func (realtime *Realtime) connectionState() transport.ConnectionState {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	return realtime.state
}

func (realtime *Realtime) send(message *protocol.ProtocolMessage) error {
	return realtime.connection.Send(message)
}

func (realtime *Realtime) sendTracked(channel *Channel, message *protocol.ProtocolMessage) (uint64, error) {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	if realtime.state != transport.StateConnected {
		return 0, errNotConnected
	}
	message.MsgSerial = realtime.msgSerial
	if err := realtime.connection.Send(message); err != nil {
		return 0, err
	}
	realtime.pendingAcks[message.MsgSerial] = channel
	realtime.msgSerial++
	return realtime.generation, nil
}

// releaseSerial forgets the pending ACK of msgSerial when it still belongs
// to channel in the current generation.
func (realtime *Realtime) releaseSerial(channel *Channel, generation uint64, msgSerial int64) {
	realtime.lock.Lock()
	defer realtime.lock.Unlock()
	if generation != realtime.generation || realtime.pendingAcks[msgSerial] != channel {
		return
	}
	delete(realtime.pendingAcks, msgSerial)
}

func (realtime *Realtime) clientID() string {
	return realtime.options.ClientID
}

func (realtime *Realtime) rest() *Rest {
	return realtime.restClient
}

// connectParams builds the auth and format query of a connection attempt.
func (realtime *Realtime) connectParams(ctx context.Context) (url.Values, error) {
	values := url.Values{}
	values.Set("v", "2")
	values.Set("format", realtime.options.codec().Format())
	if realtime.options.ClientID != "" {
		values.Set("clientId", realtime.options.ClientID)
	}
	material, err := realtime.restClient.auth.ResolveAuthorization(ctx, realtime.options.authMode())
	if err != nil {
		return nil, err
	}
	switch material.Mode {
	case AuthBasic:
		values.Set("key", material.Key)
	case AuthToken:
		values.Set("access_token", material.Token)
	}
	return values, nil
}

func websocketScheme(scheme string) string {
	if scheme == "http" {
		return "ws"
	}
	return "wss"
}

// Channels is the registry of a client's channels.
type Channels struct {
	lock     sync.Mutex
	realtime *Realtime
	channels map[string]*Channel
}

// Get returns the channel called name, creating it on first use.
func (channels *Channels) Get(name string) *Channel {
	channels.lock.Lock()
	defer channels.lock.Unlock()
	if channel, ok := channels.channels[name]; ok {
		return channel
	}
	realtime := channels.realtime
	channel := newChannel(name, realtime, realtime.options, realtime.metrics)
	channels.channels[name] = channel
	return channel
}

// Exists reports whether the channel called name has been created.
func (channels *Channels) Exists(name string) bool {
	return channels.existing(name) != nil
}

// Release detaches the channel and removes it from the registry once it
// leaves the DETACHING state.
func (channels *Channels) Release(name string) *Result {
	channel := channels.existing(name)
	if channel == nil {
		return resolvedResult(nil)
	}
	var subscription *event.Subscription
	subscription = channel.OnAny(func(change ChannelStateChange) {
		if change.Current != ChannelDetaching {
			channels.forget(name, channel)
			subscription.Unsubscribe()
		}
	})
	result := channel.Detach()
	if channel.State() != ChannelDetaching {
		channels.forget(name, channel)
		subscription.Unsubscribe()
	}
	return result
}

func (channels *Channels) forget(name string, channel *Channel) {
	channels.lock.Lock()
	if channels.channels[name] == channel {
		delete(channels.channels, name)
	}
	channels.lock.Unlock()
}

// Names returns the names of every channel, sorted.
func (channels *Channels) Names() []string {
	channels.lock.Lock()
	defer channels.lock.Unlock()
	names := make([]string, 0, len(channels.channels))
	for name := range channels.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (channels *Channels) existing(name string) *Channel {
	channels.lock.Lock()
	defer channels.lock.Unlock()
	return channels.channels[name]
}

func (channels *Channels) all() []*Channel {
	names := channels.Names()
	channels.lock.Lock()
	defer channels.lock.Unlock()
	all := make([]*Channel, 0, len(names))
	for _, name := range names {
		if channel, ok := channels.channels[name]; ok {
			all = append(all, channel)
		}
	}
	return all
}
