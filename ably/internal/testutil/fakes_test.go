package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

func TestCounterNext(t *testing.T) {
	counter := &Counter{}
	if next := counter.Next(); next != 1 {
		t.Fatalf("expected first counter value 1, got %d", next)
	}
	if next := counter.Next(); next != 2 {
		t.Fatalf("expected second counter value 2, got %d", next)
	}
	if value := counter.Value(); value != 2 {
		t.Fatalf("expected value 2, got %d", value)
	}
}

type recordingSink struct {
	messages []*protocol.ProtocolMessage
	changes  []transport.StateChange
}

func (sink *recordingSink) OnProtocolMessage(message *protocol.ProtocolMessage) {
	sink.messages = append(sink.messages, message)
}

func (sink *recordingSink) OnConnectionStateChange(change transport.StateChange) {
	sink.changes = append(sink.changes, change)
}

func TestFakeConnectionRecordsAndDelivers(t *testing.T) {
	connection := NewFakeConnection()
	sink := &recordingSink{}
	connection.Listen(sink)

	if err := connection.Send(&protocol.ProtocolMessage{Action: protocol.ActionAttach}); err == nil {
		t.Fatalf("expected send before connect to fail")
	}

	connection.Open("conn-1")
	if len(sink.changes) != 1 || sink.changes[0].ConnectionID != "conn-1" || sink.changes[0].Previous != transport.StateInitialized {
		t.Fatalf("expected CONNECTED change with id, got %+v", sink.changes)
	}

	message := &protocol.ProtocolMessage{Action: protocol.ActionAttach, Channel: "room"}
	if err := connection.Send(message); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	message.Channel = "mutated"
	if sent := connection.SentWithAction(protocol.ActionAttach); len(sent) != 1 || sent[0].Channel != "room" {
		t.Fatalf("expected recorded copy of ATTACH, got %+v", sent)
	}

	connection.Deliver(&protocol.ProtocolMessage{Action: protocol.ActionAttached, Channel: "room"})
	if len(sink.messages) != 1 {
		t.Fatalf("expected delivered message, got %d", len(sink.messages))
	}
}

func TestFakeRoundTripperRecordsHosts(t *testing.T) {
	roundTripper := NewFakeRoundTripper(func(request *http.Request) (*http.Response, error) {
		return Respond(http.StatusOK, "application/json", "[]"), nil
	})
	response, err := roundTripper.Client().Get("https://primary.example.com/time")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	response.Body.Close()
	if hosts := roundTripper.Hosts(); len(hosts) != 1 || hosts[0] != "primary.example.com" {
		t.Fatalf("expected recorded host, got %v", hosts)
	}
}

func TestTokenSourceRepeatsLastToken(t *testing.T) {
	source := NewTokenSource("one", "two")
	for _, expected := range []string{"one", "two", "two"} {
		token, err := source.Fetch(context.Background())
		if err != nil || token != expected {
			t.Fatalf("expected %q, got %q (%v)", expected, token, err)
		}
	}
	if source.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", source.Calls())
	}
}
