package ably

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Thejuampi/ably-client-go/ably/internal/testutil"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

const testTimeout = 2 * time.Second

type harness struct {
	realtime   *Realtime
	connection *testutil.FakeConnection
	clock      *clock.Mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, configure ...func(options *ClientOptions)) *harness {
	t.Helper()
	connection := testutil.NewFakeConnection()
	mock := clock.NewMock()
	options := ClientOptions{
		Key:                    "app.key:secret",
		ClientID:               "me",
		RestHost:               "rest.example.com",
		RealtimeHost:           "realtime.example.com",
		Connection:             connection,
		Clock:                  mock,
		Logger:                 discardLogger(),
		RealtimeRequestTimeout: time.Second,
	}
	for _, apply := range configure {
		apply(&options)
	}
	realtime, err := NewRealtime(options)
	if err != nil {
		t.Fatalf("unexpected NewRealtime error: %v", err)
	}
	return &harness{realtime: realtime, connection: connection, clock: mock}
}

// connected returns a harness whose connection is already CONNECTED.
func connected(t *testing.T, configure ...func(options *ClientOptions)) *harness {
	t.Helper()
	h := newHarness(t, configure...)
	h.connection.Open("conn-1")
	return h
}

func (h *harness) deliver(message *protocol.ProtocolMessage) {
	h.connection.Deliver(message)
}

// attach attaches name and completes an empty presence sync.
func (h *harness) attach(t *testing.T, name string, flags protocol.Flag) *Channel {
	t.Helper()
	channel := h.realtime.Channels().Get(name)
	result := channel.Attach()
	h.deliver(attachedMessage(name, flags))
	if err := waitResult(t, result); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	return channel
}

func attachedMessage(name string, flags protocol.Flag) *protocol.ProtocolMessage {
	return &protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: name, ChannelSerial: "attach-serial", Flags: flags}
}

func syncMessage(name string, channelSerial string, members ...*protocol.PresenceMessage) *protocol.ProtocolMessage {
	return &protocol.ProtocolMessage{Action: protocol.ActionSync, Channel: name, ChannelSerial: channelSerial, Presence: members}
}

func member(connectionID string, clientID string, action protocol.PresenceAction, serial int64) *protocol.PresenceMessage {
	return &protocol.PresenceMessage{ConnectionID: connectionID, ClientID: clientID, Action: action, Serial: serial}
}

func waitResult(t *testing.T, result *Result) error {
	t.Helper()
	select {
	case <-result.Done():
		return result.Err()
	case <-time.After(testTimeout):
		t.Fatalf("result did not resolve within %v", testTimeout)
		return nil
	}
}

func assertPending(t *testing.T, result *Result) {
	t.Helper()
	select {
	case <-result.Done():
		t.Fatalf("expected result pending, got resolved with %v", result.Err())
	default:
	}
}

func assertCode(t *testing.T, err error, kind ErrorKind, code int) {
	t.Helper()
	if !IsKind(err, kind) || ErrorCode(err) != code {
		t.Fatalf("expected %s %d, got %v", kind, code, err)
	}
}

func waitState(t *testing.T, channel *Channel, state ChannelState) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for channel.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("expected state %s, got %s", state, channel.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func messageNames(messages []*protocol.ProtocolMessage) []string {
	var names []string
	for _, message := range messages {
		for _, item := range message.Messages {
			names = append(names, item.Name)
		}
	}
	return names
}
