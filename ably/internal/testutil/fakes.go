// Package testutil holds deterministic fakes shared by the client tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// FakeConnection is an in-memory transport.Connection. Tests drive inbound
// traffic with Deliver and state changes with Open and SetState.
type FakeConnection struct {
	lock    sync.Mutex
	state   transport.ConnectionState
	sink    transport.Sink
	sent    []*protocol.ProtocolMessage
	sendErr error
}

// NewFakeConnection returns a connection in the INITIALIZED state.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{state: transport.StateInitialized}
}

// Send records a copy of message.
func (connection *FakeConnection) Send(message *protocol.ProtocolMessage) error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.sendErr != nil {
		return connection.sendErr
	}
	if connection.state != transport.StateConnected {
		return errors.New("fake connection: not connected")
	}
	copied := *message
	connection.sent = append(connection.sent, &copied)
	return nil
}

// State returns the current state.
func (connection *FakeConnection) State() transport.ConnectionState {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.state
}

// Listen stores sink.
func (connection *FakeConnection) Listen(sink transport.Sink) {
	connection.lock.Lock()
	connection.sink = sink
	connection.lock.Unlock()
}

// Close moves the connection to CLOSED.
func (connection *FakeConnection) Close() error {
	connection.SetState(transport.StateClosed, nil)
	return nil
}

// Open reports CONNECTED with connectionID.
func (connection *FakeConnection) Open(connectionID string) {
	connection.emit(transport.StateChange{
		Current:       transport.StateConnected,
		ConnectionID:  connectionID,
		ConnectionKey: connectionID + "-key",
	})
}

// SetState reports a transition to state.
func (connection *FakeConnection) SetState(state transport.ConnectionState, reason error) {
	connection.emit(transport.StateChange{Current: state, Reason: reason})
}

func (connection *FakeConnection) emit(change transport.StateChange) {
	connection.lock.Lock()
	change.Previous = connection.state
	connection.state = change.Current
	sink := connection.sink
	connection.lock.Unlock()
	if sink != nil {
		sink.OnConnectionStateChange(change)
	}
}

// Deliver hands message to the sink as if it arrived from the server.
func (connection *FakeConnection) Deliver(message *protocol.ProtocolMessage) {
	connection.lock.Lock()
	sink := connection.sink
	connection.lock.Unlock()
	if sink != nil {
		sink.OnProtocolMessage(message)
	}
}

// SetSendError makes every Send fail with err until cleared with nil.
func (connection *FakeConnection) SetSendError(err error) {
	connection.lock.Lock()
	connection.sendErr = err
	connection.lock.Unlock()
}

// Sent returns the recorded messages in send order.
func (connection *FakeConnection) Sent() []*protocol.ProtocolMessage {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return append([]*protocol.ProtocolMessage(nil), connection.sent...)
}

// SentWithAction returns the recorded messages carrying action.
func (connection *FakeConnection) SentWithAction(action protocol.Action) []*protocol.ProtocolMessage {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	var matched []*protocol.ProtocolMessage
	for _, message := range connection.sent {
		if message.Action == action {
			matched = append(matched, message)
		}
	}
	return matched
}

// ClearSent forgets the recorded messages.
func (connection *FakeConnection) ClearSent() {
	connection.lock.Lock()
	connection.sent = nil
	connection.lock.Unlock()
}

// FakeRoundTripper is an http.RoundTripper answering from a handler and
// recording every request.
type FakeRoundTripper struct {
	lock     sync.Mutex
	handler  func(request *http.Request) (*http.Response, error)
	requests []*http.Request
}

// NewFakeRoundTripper returns a round tripper answering with handler.
func NewFakeRoundTripper(handler func(request *http.Request) (*http.Response, error)) *FakeRoundTripper {
	return &FakeRoundTripper{handler: handler}
}

// RoundTrip implements http.RoundTripper.
func (roundTripper *FakeRoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	roundTripper.lock.Lock()
	roundTripper.requests = append(roundTripper.requests, request)
	handler := roundTripper.handler
	roundTripper.lock.Unlock()
	if err := request.Context().Err(); err != nil {
		return nil, err
	}
	response, err := handler(request)
	if response != nil && response.Request == nil {
		response.Request = request
	}
	return response, err
}

// Client returns an http.Client using the round tripper.
func (roundTripper *FakeRoundTripper) Client() *http.Client {
	return &http.Client{Transport: roundTripper}
}

// Requests returns the recorded requests.
func (roundTripper *FakeRoundTripper) Requests() []*http.Request {
	roundTripper.lock.Lock()
	defer roundTripper.lock.Unlock()
	return append([]*http.Request(nil), roundTripper.requests...)
}

// Hosts returns the host of each recorded request in order.
func (roundTripper *FakeRoundTripper) Hosts() []string {
	roundTripper.lock.Lock()
	defer roundTripper.lock.Unlock()
	hosts := make([]string, 0, len(roundTripper.requests))
	for _, request := range roundTripper.requests {
		hosts = append(hosts, request.URL.Hostname())
	}
	return hosts
}

// Respond builds a response with status and a body of contentType.
func Respond(status int, contentType string, body string) *http.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// TokenSource hands out tokens in order and counts the calls. When Gate is
// set each call blocks until it is closed.
type TokenSource struct {
	lock   sync.Mutex
	tokens []string
	calls  int
	err    error
	Gate   chan struct{}
}

// NewTokenSource returns a source yielding tokens in order. The last token
// repeats once the list is exhausted.
func NewTokenSource(tokens ...string) *TokenSource {
	return &TokenSource{tokens: tokens}
}

// Fetch is usable as a TokenSource callback.
func (source *TokenSource) Fetch(ctx context.Context) (string, error) {
	if source.Gate != nil {
		select {
		case <-source.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	source.lock.Lock()
	defer source.lock.Unlock()
	source.calls++
	if source.err != nil {
		return "", source.err
	}
	if len(source.tokens) == 0 {
		return "", errors.New("token source: no tokens")
	}
	index := source.calls - 1
	if index >= len(source.tokens) {
		index = len(source.tokens) - 1
	}
	return source.tokens[index], nil
}

// SetError makes every Fetch fail with err.
func (source *TokenSource) SetError(err error) {
	source.lock.Lock()
	source.err = err
	source.lock.Unlock()
}

// Calls returns the number of Fetch calls that got past the gate.
func (source *TokenSource) Calls() int {
	source.lock.Lock()
	defer source.lock.Unlock()
	return source.calls
}
