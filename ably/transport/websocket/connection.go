// Package websocket implements transport.Connection over gorilla/websocket.
//
// One goroutine owns the link: it dials, waits for CONNECTED, reads frames
// and reconnects with the configured delay strategy, rotating through the
// realtime hosts. Every Sink call happens on that goroutine.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

// Options configures a Connection.
type Options struct {
	Hosts  *transport.HostChooser
	Scheme string
	Port   int
	Codec  codec.Codec
	// Params returns the query of each connection attempt, typically the
	// credentials. Errors count as a failed attempt.
	Params func(ctx context.Context) (url.Values, error)
	Dialer *websocket.Dialer
	Logger *slog.Logger
	Clock  clock.Clock

	DisconnectedRetryTimeout time.Duration
	// RetryJitter is the largest fraction removed from each disconnected
	// retry delay. Zero selects transport.DefaultRetryJitter; negative
	// disables jitter.
	RetryJitter           float64
	SuspendedRetryTimeout time.Duration
	// ConnectionStateTTL is how long the connection may stay disconnected
	// before it is reported suspended.
	ConnectionStateTTL time.Duration
	// RequestTimeout bounds dialing and the wait for CONNECTED.
	RequestTimeout time.Duration
}

// Connection is a websocket transport.Connection.
type Connection struct {
	lock      sync.Mutex
	writeLock sync.Mutex
	options   Options
	strategy  transport.ReconnectDelayStrategy
	sink      transport.Sink

	state          transport.ConnectionState
	conn           *websocket.Conn
	connectionID   string
	connectionKey  string
	disconnectedAt time.Time
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
}

// fatalError ends the run loop in the FAILED state.
type fatalError struct {
	err error
}

func (err fatalError) Error() string { return err.err.Error() }

func (err fatalError) Unwrap() error { return err.err }

var errClosedByServer = errors.New("connection closed by server")

// New returns an idle Connection. Call Connect to start it.
func New(options Options) *Connection {
	if options.Hosts == nil {
		options.Hosts = transport.NewHostChooser("localhost")
	}
	if options.Scheme == "" {
		options.Scheme = "wss"
	}
	if options.Codec == nil {
		options.Codec = codec.JSON
	}
	if options.Dialer == nil {
		options.Dialer = websocket.DefaultDialer
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.DisconnectedRetryTimeout <= 0 {
		options.DisconnectedRetryTimeout = 15 * time.Second
	}
	if options.SuspendedRetryTimeout <= 0 {
		options.SuspendedRetryTimeout = 30 * time.Second
	}
	if options.ConnectionStateTTL <= 0 {
		options.ConnectionStateTTL = 2 * time.Minute
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 10 * time.Second
	}
	if options.RetryJitter == 0 {
		options.RetryJitter = transport.DefaultRetryJitter
	}
	return &Connection{
		options:  options,
		strategy: transport.NewBackoffDelayStrategy(options.DisconnectedRetryTimeout, options.RetryJitter),
		state:    transport.StateInitialized,
	}
}

// SetReconnectDelayStrategy sets the delay between reconnect attempts while
// disconnected and returns connection for chaining.
func (connection *Connection) SetReconnectDelayStrategy(strategy transport.ReconnectDelayStrategy) *Connection {
	if connection == nil || strategy == nil {
		return connection
	}
	connection.lock.Lock()
	connection.strategy = strategy
	connection.lock.Unlock()
	return connection
}

// Listen implements transport.Connection.
func (connection *Connection) Listen(sink transport.Sink) {
	connection.lock.Lock()
	connection.sink = sink
	connection.lock.Unlock()
}

// State implements transport.Connection.
func (connection *Connection) State() transport.ConnectionState {
	if connection == nil {
		return transport.StateClosed
	}
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.state
}

// ConnectionID returns the id assigned by the server on CONNECTED.
func (connection *Connection) ConnectionID() string {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.connectionID
}

// Connect starts the connection goroutine. It does not block.
func (connection *Connection) Connect() error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	connection.running = true
	connection.cancel = cancel
	connection.done = make(chan struct{})
	go connection.run(ctx, connection.done)
	return nil
}

// Done is closed when the connection goroutine exits.
func (connection *Connection) Done() <-chan struct{} {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.done == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return connection.done
}

// Close implements transport.Connection. A running connection reports
// CLOSED from its own goroutine once it has stopped.
func (connection *Connection) Close() error {
	connection.lock.Lock()
	running := connection.running
	cancel := connection.cancel
	conn := connection.conn
	if running {
		connection.state = transport.StateClosing
	}
	connection.lock.Unlock()

	if !running {
		connection.setState(transport.StateClosed, nil)
		return nil
	}
	if conn != nil {
		if err := connection.write(conn, &protocol.ProtocolMessage{Action: protocol.ActionClose}); err != nil {
			connection.options.Logger.Debug("send close failed", slog.Any("error", err))
		}
		_ = conn.Close()
	}
	cancel()
	return nil
}

// Send implements transport.Connection.
func (connection *Connection) Send(message *protocol.ProtocolMessage) error {
	connection.lock.Lock()
	conn := connection.conn
	state := connection.state
	connection.lock.Unlock()
	if conn == nil || state != transport.StateConnected {
		return fmt.Errorf("websocket: cannot send in state %s", state)
	}
	return connection.write(conn, message)
}

func (connection *Connection) write(conn *websocket.Conn, message *protocol.ProtocolMessage) error {
	data, err := connection.options.Codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("websocket: encode %s: %w", message.Action, err)
	}
	frameType := websocket.TextMessage
	if connection.options.Codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(connection.options.RequestTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(frameType, data)
}

func (connection *Connection) read(conn *websocket.Conn) (*protocol.ProtocolMessage, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	message := &protocol.ProtocolMessage{}
	if err := connection.options.Codec.Unmarshal(data, message); err != nil {
		return nil, fmt.Errorf("websocket: decode frame: %w", err)
	}
	return message, nil
}

func (connection *Connection) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		connection.lock.Lock()
		connection.running = false
		connection.conn = nil
		connection.lock.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			connection.setState(transport.StateClosed, nil)
			return
		}
		connection.setState(transport.StateConnecting, nil)

		host := connection.options.Hosts.CurrentHost()
		err := connection.connectOnce(ctx, host)
		if ctx.Err() != nil {
			connection.setState(transport.StateClosed, nil)
			return
		}
		var fatal fatalError
		if errors.As(err, &fatal) {
			connection.setState(transport.StateFailed, fatal.err)
			return
		}

		connection.options.Hosts.ReportFailure(err)
		now := connection.options.Clock.Now()
		connection.lock.Lock()
		if connection.disconnectedAt.IsZero() {
			connection.disconnectedAt = now
		}
		suspended := now.Sub(connection.disconnectedAt) >= connection.options.ConnectionStateTTL
		strategy := connection.strategy
		connection.lock.Unlock()

		wait := connection.options.SuspendedRetryTimeout
		if suspended {
			connection.setState(transport.StateSuspended, err)
		} else {
			connection.setState(transport.StateDisconnected, err)
			wait = strategy.NextDelay(host)
		}
		connection.options.Logger.Warn("realtime connection lost",
			slog.String("host", host),
			slog.String("nextHost", connection.options.Hosts.CurrentHost()),
			slog.Duration("retryIn", wait),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
		case <-connection.options.Clock.After(wait):
		}
	}
}

// connectOnce dials host, waits for CONNECTED and then reads until the
// link fails.
func (connection *Connection) connectOnce(ctx context.Context, host string) error {
	params := url.Values{}
	if connection.options.Params != nil {
		resolved, err := connection.options.Params(ctx)
		if err != nil {
			return fmt.Errorf("websocket: connection params: %w", err)
		}
		params = resolved
	}
	format := connection.options.Codec.Format()
	params.Set("format", format)
	connection.lock.Lock()
	if connection.connectionKey != "" {
		params.Set("resume", connection.connectionKey)
	}
	connection.lock.Unlock()

	if connection.options.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(connection.options.Port))
	}
	target := url.URL{Scheme: connection.options.Scheme, Host: host, Path: "/", RawQuery: params.Encode()}

	dialCtx, cancel := context.WithTimeout(ctx, connection.options.RequestTimeout)
	conn, _, err := connection.options.Dialer.DialContext(dialCtx, target.String(), nil)
	cancel()
	if err != nil {
		return fmt.Errorf("websocket: dial %s: %w", host, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(connection.options.RequestTimeout)); err != nil {
		return err
	}
	first, err := connection.read(conn)
	if err != nil {
		return fmt.Errorf("websocket: await CONNECTED: %w", err)
	}
	switch first.Action {
	case protocol.ActionConnected:
	case protocol.ActionError:
		return connectionFailure(first.Error)
	default:
		return fmt.Errorf("websocket: expected CONNECTED, got %s", first.Action)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	connection.lock.Lock()
	connection.conn = conn
	connection.connectionID = first.ConnectionID
	connection.connectionKey = first.ConnectionKey
	connection.disconnectedAt = time.Time{}
	strategy := connection.strategy
	connection.lock.Unlock()
	strategy.Reset()
	connection.options.Hosts.ReportSuccess()
	connection.setConnected(first)

	defer func() {
		connection.lock.Lock()
		connection.conn = nil
		connection.lock.Unlock()
	}()

	for {
		message, err := connection.read(conn)
		if err != nil {
			return err
		}
		switch message.Action {
		case protocol.ActionHeartbeat:
		case protocol.ActionConnected:
			connection.lock.Lock()
			connection.connectionID = message.ConnectionID
			connection.connectionKey = message.ConnectionKey
			connection.lock.Unlock()
		case protocol.ActionDisconnected:
			if message.Error != nil {
				return message.Error
			}
			return errClosedByServer
		case protocol.ActionClosed:
			return errClosedByServer
		case protocol.ActionError:
			if message.Channel == "" {
				return connectionFailure(message.Error)
			}
			connection.deliver(message)
		default:
			connection.deliver(message)
		}
	}
}

// connectionFailure classifies a connection level ERROR. Client errors
// other than token errors cannot be fixed by retrying.
func connectionFailure(info *protocol.ErrorInfo) error {
	if info == nil {
		return errors.New("websocket: connection error")
	}
	tokenError := info.Code >= 40140 && info.Code < 40150
	if info.StatusCode >= 400 && info.StatusCode < 500 && !tokenError {
		return fatalError{err: info}
	}
	return info
}

func (connection *Connection) deliver(message *protocol.ProtocolMessage) {
	connection.lock.Lock()
	sink := connection.sink
	connection.lock.Unlock()
	if sink != nil {
		sink.OnProtocolMessage(message)
	}
}

func (connection *Connection) setConnected(message *protocol.ProtocolMessage) {
	connection.transition(transport.StateChange{
		Current:       transport.StateConnected,
		ConnectionID:  message.ConnectionID,
		ConnectionKey: message.ConnectionKey,
	})
}

func (connection *Connection) setState(state transport.ConnectionState, reason error) {
	connection.transition(transport.StateChange{Current: state, Reason: reason})
}

func (connection *Connection) transition(change transport.StateChange) {
	connection.lock.Lock()
	if connection.state == transport.StateClosed && change.Current == transport.StateClosed {
		connection.lock.Unlock()
		return
	}
	change.Previous = connection.state
	connection.state = change.Current
	sink := connection.sink
	connection.lock.Unlock()
	if sink != nil {
		sink.OnConnectionStateChange(change)
	}
}
