package ably

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/internal/testutil"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

func newTestRest(t *testing.T, handler func(request *http.Request) (*http.Response, error), configure ...func(options *ClientOptions)) (*Rest, *testutil.FakeRoundTripper) {
	t.Helper()
	roundTripper := testutil.NewFakeRoundTripper(handler)
	options := ClientOptions{
		Key:        "app.key:secret",
		RestHost:   "rest.example.com",
		HTTPClient: roundTripper.Client(),
		Logger:     discardLogger(),
	}
	for _, apply := range configure {
		apply(&options)
	}
	rest, err := NewRest(options)
	if err != nil {
		t.Fatalf("unexpected NewRest error: %v", err)
	}
	return rest, roundTripper
}

func TestRestTimeIsUnauthenticated(t *testing.T) {
	rest, roundTripper := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		return testutil.Respond(http.StatusOK, "application/json", "[1700000000123]"), nil
	})

	serverTime, err := rest.Time(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !serverTime.Equal(time.UnixMilli(1700000000123)) {
		t.Fatalf("unexpected time %v", serverTime)
	}
	if header := roundTripper.Requests()[0].Header.Get("Authorization"); header != "" {
		t.Fatalf("expected no Authorization on /time, got %q", header)
	}
}

func TestRestHistoryQuery(t *testing.T) {
	rest, roundTripper := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		return testutil.Respond(http.StatusOK, "application/json", `[{"id":"m1","name":"greeting","data":"hi"}]`), nil
	})

	start := time.UnixMilli(1000)
	messages, err := rest.History(context.Background(), "room", HistoryParams{Start: start, Limit: 10, Direction: "forwards"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" || messages[0].Data != "hi" {
		t.Fatalf("unexpected messages %+v", messages)
	}
	request := roundTripper.Requests()[0]
	if request.URL.Path != "/channels/room/messages" {
		t.Fatalf("unexpected path %s", request.URL.Path)
	}
	query := request.URL.Query()
	if query.Get("start") != "1000" || query.Get("limit") != "10" || query.Get("direction") != "forwards" || query.Has("end") {
		t.Fatalf("unexpected query %v", query)
	}
}

func TestRestPresenceGet(t *testing.T) {
	rest, roundTripper := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		return testutil.Respond(http.StatusOK, "application/json", `[{"action":1,"clientId":"A","connectionId":"c1"}]`), nil
	})

	members, err := rest.PresenceGet(context.Background(), "room", PresenceParams{ClientID: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 || members[0].MemberKey() != "c1:A" || members[0].Action != protocol.PresencePresent {
		t.Fatalf("unexpected members %+v", members)
	}
	if query := roundTripper.Requests()[0].URL.Query(); query.Get("clientId") != "A" {
		t.Fatalf("unexpected query %v", query)
	}
}

func TestRestPublishAssignsIdempotentIDs(t *testing.T) {
	var body []byte
	rest, _ := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		body, _ = io.ReadAll(request.Body)
		return testutil.Respond(http.StatusCreated, "application/json", "{}"), nil
	}, func(options *ClientOptions) {
		options.IdempotentPublishing = true
	})

	err := rest.Publish(context.Background(), "room", &protocol.Message{Name: "a"}, &protocol.Message{Name: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sent []protocol.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("unexpected body %s: %v", body, err)
	}
	if len(sent) != 2 || !strings.HasSuffix(sent[0].ID, ":0") || !strings.HasSuffix(sent[1].ID, ":1") {
		t.Fatalf("expected base:index ids, got %+v", sent)
	}
	if strings.TrimSuffix(sent[0].ID, ":0") != strings.TrimSuffix(sent[1].ID, ":1") {
		t.Fatalf("expected a shared base id, got %q and %q", sent[0].ID, sent[1].ID)
	}
}

func TestRestPublishUsesBinaryProtocol(t *testing.T) {
	var contentType string
	var body []byte
	rest, _ := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		contentType = request.Header.Get("Content-Type")
		body, _ = io.ReadAll(request.Body)
		return testutil.Respond(http.StatusCreated, "application/cbor", ""), nil
	}, func(options *ClientOptions) {
		options.UseBinaryProtocol = true
	})

	if err := rest.Publish(context.Background(), "room", &protocol.Message{Name: "bin", Data: "payload"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contentType != "application/cbor" {
		t.Fatalf("expected CBOR content type, got %q", contentType)
	}
	var sent []protocol.Message
	if err := codec.CBOR.Unmarshal(body, &sent); err != nil || len(sent) != 1 || sent[0].Name != "bin" {
		t.Fatalf("expected CBOR encoded message, got %+v %v", sent, err)
	}
}

func TestRestDecodeRejectsUnknownContentType(t *testing.T) {
	rest, _ := newTestRest(t, func(request *http.Request) (*http.Response, error) {
		return testutil.Respond(http.StatusOK, "text/html", "<html>"), nil
	})
	_, err := rest.Time(context.Background())
	assertCode(t, err, KindProtocol, CodeInternal)
}

func TestChannelHistoryUsesRest(t *testing.T) {
	roundTripper := testutil.NewFakeRoundTripper(func(request *http.Request) (*http.Response, error) {
		return testutil.Respond(http.StatusOK, "application/json", `[{"name":"old"}]`), nil
	})
	h := newHarness(t, func(options *ClientOptions) {
		options.HTTPClient = roundTripper.Client()
	})

	messages, err := h.realtime.Channels().Get("a/b").History(context.Background(), HistoryParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 || messages[0].Name != "old" {
		t.Fatalf("unexpected messages %+v", messages)
	}
	request := roundTripper.Requests()[0]
	if request.URL.Host != "rest.example.com" || request.URL.EscapedPath() != "/channels/a%2Fb/messages" {
		t.Fatalf("unexpected request %s", request.URL)
	}
}
