package ably

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

func TestPublishBeforeAttachFlushesInOrderAndAcksIndividually(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")

	first := channel.Publish("m1", "one")
	second := channel.Publish("m2", "two")
	if state := channel.State(); state != ChannelAttaching {
		t.Fatalf("expected implicit attach, got %s", state)
	}
	if sent := h.connection.SentWithAction(protocol.ActionMessage); len(sent) != 0 {
		t.Fatalf("expected publishes queued while attaching, got %d sent", len(sent))
	}

	h.deliver(attachedMessage("room", 0))

	sent := h.connection.SentWithAction(protocol.ActionMessage)
	if names := messageNames(sent); !reflect.DeepEqual(names, []string{"m1", "m2"}) {
		t.Fatalf("expected FIFO flush [m1 m2], got %v", names)
	}
	if sent[0].MsgSerial != 0 || sent[1].MsgSerial != 1 {
		t.Fatalf("expected msgSerials 0 and 1, got %d and %d", sent[0].MsgSerial, sent[1].MsgSerial)
	}

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: 1})
	if err := waitResult(t, first); err != nil {
		t.Fatalf("expected m1 acknowledged, got %v", err)
	}
	assertPending(t, second)
}

func TestPublishWhileConnectingWaitsForConnection(t *testing.T) {
	h := newHarness(t)
	h.connection.SetState(transport.StateConnecting, nil)
	channel := h.realtime.Channels().Get("room")

	result := channel.Publish("early", nil)
	if sent := h.connection.Sent(); len(sent) != 0 {
		t.Fatalf("expected nothing sent before CONNECTED, got %v", sent)
	}

	h.connection.Open("conn-1")
	if attaches := h.connection.SentWithAction(protocol.ActionAttach); len(attaches) != 1 {
		t.Fatalf("expected ATTACH once connected, got %d", len(attaches))
	}
	h.deliver(attachedMessage("room", 0))
	if names := messageNames(h.connection.SentWithAction(protocol.ActionMessage)); !reflect.DeepEqual(names, []string{"early"}) {
		t.Fatalf("expected queued publish flushed, got %v", names)
	}
	assertPending(t, result)
}

func TestPublishWhileAttachedSendsImmediately(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	result := channel.Publish("now", 1)
	if sent := h.connection.SentWithAction(protocol.ActionMessage); len(sent) != 1 {
		t.Fatalf("expected immediate send, got %d", len(sent))
	}
	assertPending(t, result)

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: 1})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAckRangeResolvesEveryMessage(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	results := []*Result{channel.Publish("a", nil), channel.Publish("b", nil), channel.Publish("c", nil)}
	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: 3})
	for index, result := range results {
		if err := waitResult(t, result); err != nil {
			t.Fatalf("expected message %d acknowledged, got %v", index, err)
		}
	}
}

func TestNackPropagatesServerError(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	rejected := channel.Publish("denied", nil)
	accepted := channel.Publish("fine", nil)
	h.deliver(&protocol.ProtocolMessage{
		Action:    protocol.ActionNack,
		MsgSerial: 0,
		Count:     1,
		Error:     &protocol.ErrorInfo{Code: CodeInsufficientCapability, StatusCode: 401, Message: "no publish capability"},
	})
	assertCode(t, waitResult(t, rejected), KindProtocol, CodeInsufficientCapability)
	assertPending(t, accepted)

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "room"})
	assertCode(t, waitResult(t, accepted), KindState, CodeChannelDetached)
	assertCode(t, rejected.Err(), KindProtocol, CodeInsufficientCapability)
}

func TestErrorWhileAttachedFailsChannelAndClearsPresence(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", protocol.FlagHasPresence)
	h.deliver(syncMessage("room", "",
		member("c1", "X", protocol.PresencePresent, 1),
		member("c2", "Y", protocol.PresencePresent, 1)))
	if members := channel.Presence().Members(); len(members) != 2 {
		t.Fatalf("expected members X and Y, got %d", len(members))
	}

	var changes []ChannelStateChange
	channel.On(ChannelFailed, func(change ChannelStateChange) {
		changes = append(changes, change)
	})
	pending := channel.Publish("unacked", nil)

	h.deliver(&protocol.ProtocolMessage{
		Action:  protocol.ActionError,
		Channel: "room",
		Error:   &protocol.ErrorInfo{Code: CodeChannelOperationFailed, StatusCode: 500, Message: "channel broke"},
	})

	if state := channel.State(); state != ChannelFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	if members := channel.Presence().Members(); len(members) != 0 {
		t.Fatalf("expected empty presence, got %d members", len(members))
	}
	assertCode(t, waitResult(t, pending), KindProtocol, CodeChannelOperationFailed)
	if len(changes) != 1 || changes[0].Previous != ChannelAttached {
		t.Fatalf("expected one FAILED change from ATTACHED, got %+v", changes)
	}
	assertCode(t, changes[0].Reason, KindProtocol, CodeChannelOperationFailed)
	assertCode(t, channel.ErrorReason(), KindProtocol, CodeChannelOperationFailed)
}

func TestDetachWhileAttachingFailsQueuedMessages(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")

	attach := channel.Attach()
	queued := channel.Publish("queued", nil)
	detach := channel.Detach()

	if state := channel.State(); state != ChannelDetaching {
		t.Fatalf("expected DETACHING, got %s", state)
	}
	assertCode(t, waitResult(t, attach), KindState, CodeChannelDetached)
	if detaches := h.connection.SentWithAction(protocol.ActionDetach); len(detaches) != 1 {
		t.Fatalf("expected DETACH sent, got %d", len(detaches))
	}

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "room"})
	if state := channel.State(); state != ChannelDetached {
		t.Fatalf("expected DETACHED, got %s", state)
	}
	assertCode(t, waitResult(t, queued), KindState, CodeChannelDetached)
	if err := waitResult(t, detach); err != nil {
		t.Fatalf("unexpected detach error: %v", err)
	}
}

func TestPublishRejectedInDetachingDetachedAndFailed(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	channel.Detach()
	assertCode(t, channel.Publish("while-detaching", nil).Err(), KindState, CodeChannelInvalidState)

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "room"})
	assertCode(t, channel.Publish("while-detached", nil).Err(), KindState, CodeChannelInvalidState)

	channel.Attach()
	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionError, Channel: "room", Error: &protocol.ErrorInfo{Code: 40160}})
	assertCode(t, channel.Publish("while-failed", nil).Err(), KindState, CodeChannelInvalidState)

	if sent := h.connection.SentWithAction(protocol.ActionMessage); len(sent) != 0 {
		t.Fatalf("expected no messages sent, got %d", len(sent))
	}
}

func TestAttachAndDetachNoOps(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")

	if err := waitResult(t, channel.Detach()); err != nil {
		t.Fatalf("expected detach of initialized channel to resolve, got %v", err)
	}
	h.attach(t, "room", 0)
	h.connection.ClearSent()
	if err := waitResult(t, channel.Attach()); err != nil {
		t.Fatalf("expected attach of attached channel to resolve, got %v", err)
	}
	if sent := h.connection.Sent(); len(sent) != 0 {
		t.Fatalf("expected no traffic for no-op attach, got %v", sent)
	}
}

func TestConnectionGuardRejectsOperations(t *testing.T) {
	cases := []struct {
		state transport.ConnectionState
		code  int
	}{
		{transport.StateSuspended, CodeConnectionSuspended},
		{transport.StateClosing, CodeConnectionClosed},
		{transport.StateClosed, CodeConnectionClosed},
		{transport.StateFailed, CodeConnectionFailed},
	}
	for _, testCase := range cases {
		t.Run(testCase.state.String(), func(t *testing.T) {
			h := newHarness(t)
			h.connection.SetState(testCase.state, nil)
			channel := h.realtime.Channels().Get("room")

			assertCode(t, channel.Attach().Err(), KindState, testCase.code)
			assertCode(t, channel.Publish("m", nil).Err(), KindState, testCase.code)
			assertCode(t, channel.Presence().Enter(nil).Err(), KindState, testCase.code)
			if state := channel.State(); state != ChannelInitialized {
				t.Fatalf("expected channel untouched, got %s", state)
			}
		})
	}
}

func TestAttachTimeoutFailsChannel(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")
	attach := channel.Attach()
	queued := channel.Publish("never", nil)

	h.clock.Add(h.realtime.options.RealtimeRequestTimeout)

	assertCode(t, waitResult(t, attach), KindTimeout, CodeAttachTimeout)
	assertCode(t, waitResult(t, queued), KindTimeout, CodeAttachTimeout)
	waitState(t, channel, ChannelFailed)

	h.deliver(attachedMessage("room", 0))
	if state := channel.State(); state != ChannelFailed {
		t.Fatalf("expected late ATTACHED ignored, got %s", state)
	}
}

func TestAttachedBeforeTimeoutCancelsTimer(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	h.clock.Add(2 * h.realtime.options.RealtimeRequestTimeout)
	if state := channel.State(); state != ChannelAttached {
		t.Fatalf("expected ATTACHED to survive the old timer, got %s", state)
	}
}

func TestDetachTimeoutReturnsToAttached(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	detach := channel.Detach()
	h.clock.Add(h.realtime.options.RealtimeRequestTimeout)

	assertCode(t, waitResult(t, detach), KindTimeout, CodeDetachTimeout)
	waitState(t, channel, ChannelAttached)
}

func TestSuspendedChannelRetainsQueueAndResyncsPresence(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", protocol.FlagHasPresence)
	h.deliver(syncMessage("room", "",
		member("c1", "A", protocol.PresencePresent, 1),
		member("c2", "B", protocol.PresencePresent, 1)))

	var left []string
	var lock sync.Mutex
	channel.Presence().SubscribeAction(protocol.PresenceLeave, func(message *protocol.PresenceMessage) {
		lock.Lock()
		left = append(left, message.ClientID)
		lock.Unlock()
	})

	h.connection.SetState(transport.StateSuspended, errors.New("network down"))
	if state := channel.State(); state != ChannelSuspended {
		t.Fatalf("expected SUSPENDED, got %s", state)
	}
	if members := channel.Presence().Members(); len(members) != 2 {
		t.Fatalf("expected presence retained while suspended, got %d", len(members))
	}
	if channel.Presence().SyncComplete() {
		t.Fatalf("expected presence marked stale")
	}

	h.connection.SetState(transport.StateConnecting, nil)
	queued := channel.Publish("during-suspension", nil)
	assertPending(t, queued)

	h.connection.ClearSent()
	h.connection.Open("conn-2")
	if state := channel.State(); state != ChannelAttaching {
		t.Fatalf("expected re-attach on reconnect, got %s", state)
	}
	if attaches := h.connection.SentWithAction(protocol.ActionAttach); len(attaches) != 1 {
		t.Fatalf("expected ATTACH resent, got %d", len(attaches))
	}

	h.deliver(attachedMessage("room", protocol.FlagHasPresence))
	h.deliver(syncMessage("room", "sync2:", member("c1", "A", protocol.PresencePresent, 2)))

	members := channel.Presence().Members()
	if len(members) != 1 || members[0].ClientID != "A" {
		t.Fatalf("expected only A after re-sync, got %+v", members)
	}
	lock.Lock()
	defer lock.Unlock()
	if !reflect.DeepEqual(left, []string{"B"}) {
		t.Fatalf("expected one synthesized LEAVE for B, got %v", left)
	}
	if names := messageNames(h.connection.SentWithAction(protocol.ActionMessage)); !reflect.DeepEqual(names, []string{"during-suspension"}) {
		t.Fatalf("expected queued publish flushed after re-attach, got %v", names)
	}
}

func TestReattachReentersPresence(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)

	enter := channel.Presence().Enter("hello")
	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: 1})
	if err := waitResult(t, enter); err != nil {
		t.Fatalf("unexpected enter error: %v", err)
	}

	h.connection.SetState(transport.StateSuspended, nil)
	h.connection.SetState(transport.StateConnecting, nil)
	h.connection.ClearSent()
	h.connection.Open("conn-2")
	h.deliver(attachedMessage("room", 0))

	presence := h.connection.SentWithAction(protocol.ActionPresence)
	if len(presence) != 1 {
		t.Fatalf("expected presence re-entered, got %d presence messages", len(presence))
	}
	entered := presence[0].Presence[0]
	if entered.Action != protocol.PresenceEnter || entered.ClientID != "me" || entered.Data != "hello" {
		t.Fatalf("expected ENTER for me with data, got %+v", entered)
	}
}

func TestResumedConnectionFlushesUnsentAndContinuesSync(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", protocol.FlagHasPresence)
	h.deliver(syncMessage("room", "sync1:cursor1", member("c1", "A", protocol.PresencePresent, 1)))

	h.connection.SetState(transport.StateDisconnected, errors.New("blip"))
	result := channel.Publish("offline", nil)
	if sent := h.connection.SentWithAction(protocol.ActionMessage); len(sent) != 0 {
		t.Fatalf("expected publish held while disconnected, got %d", len(sent))
	}

	h.connection.Open("conn-1")
	if state := channel.State(); state != ChannelAttached {
		t.Fatalf("expected channel to stay attached on resume, got %s", state)
	}
	if names := messageNames(h.connection.SentWithAction(protocol.ActionMessage)); !reflect.DeepEqual(names, []string{"offline"}) {
		t.Fatalf("expected held publish sent on resume, got %v", names)
	}
	syncs := h.connection.SentWithAction(protocol.ActionSync)
	if len(syncs) != 1 || syncs[0].ChannelSerial != "sync1:cursor1" {
		t.Fatalf("expected sync continuation from sync1:cursor1, got %+v", syncs)
	}
	assertPending(t, result)
}

func TestConnectionFailedAndClosedPropagateToChannels(t *testing.T) {
	h := connected(t)
	failing := h.attach(t, "failing", 0)
	pending := failing.Publish("lost", nil)

	h.connection.SetState(transport.StateFailed, errors.New("fatal"))
	if state := failing.State(); state != ChannelFailed {
		t.Fatalf("expected FAILED, got %s", state)
	}
	assertCode(t, waitResult(t, pending), KindNetwork, CodeConnectionFailed)

	other := connected(t)
	closing := other.attach(t, "closing", 0)
	other.realtime.Close()
	if state := closing.State(); state != ChannelDetached {
		t.Fatalf("expected DETACHED after close, got %s", state)
	}
}

func TestUnexpectedAttachedIsIgnored(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")
	h.deliver(attachedMessage("room", 0))
	if state := channel.State(); state != ChannelInitialized {
		t.Fatalf("expected ATTACHED ignored while initialized, got %s", state)
	}
	if serial := channel.AttachSerial(); serial != "" {
		t.Fatalf("expected no attach serial, got %q", serial)
	}
}

func TestStateListenerMayCallBackIntoChannel(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")
	var published *Result
	channel.Once(ChannelAttached, func(change ChannelStateChange) {
		published = channel.Publish("from-listener", nil)
	})

	channel.Attach()
	h.deliver(attachedMessage("room", 0))

	if published == nil {
		t.Fatalf("expected listener to run")
	}
	if names := messageNames(h.connection.SentWithAction(protocol.ActionMessage)); !reflect.DeepEqual(names, []string{"from-listener"}) {
		t.Fatalf("expected publish from listener sent, got %v", names)
	}
}

func TestStateChangesEmittedInOrder(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")
	var seen []ChannelState
	channel.OnAny(func(change ChannelStateChange) {
		seen = append(seen, change.Current)
	})

	h.attach(t, "room", 0)
	channel.Detach()
	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "room"})

	expected := []ChannelState{ChannelAttaching, ChannelAttached, ChannelDetaching, ChannelDetached}
	if !reflect.DeepEqual(seen, expected) {
		t.Fatalf("expected %v, got %v", expected, seen)
	}
}

func TestSubscribeAttachesAndDeliversMessages(t *testing.T) {
	h := connected(t)
	channel := h.realtime.Channels().Get("room")

	var all []*protocol.Message
	var named []string
	_, attach := channel.Subscribe(func(message *protocol.Message) {
		all = append(all, message)
	})
	channel.SubscribeName("greeting", func(message *protocol.Message) {
		named = append(named, message.Data.(string))
	})
	if state := channel.State(); state != ChannelAttaching {
		t.Fatalf("expected subscribe to attach, got %s", state)
	}
	h.deliver(attachedMessage("room", 0))
	if err := waitResult(t, attach); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}

	h.deliver(&protocol.ProtocolMessage{
		Action:       protocol.ActionMessage,
		Channel:      "room",
		ID:           "proto",
		ConnectionID: "c9",
		Timestamp:    1700,
		Messages: []*protocol.Message{
			{Name: "greeting", Data: "hi"},
			{Name: "other", Data: "x"},
		},
	})

	if len(all) != 2 || all[0].ID != "proto:0" || all[1].ID != "proto:1" || all[0].ConnectionID != "c9" || all[0].Timestamp != 1700 {
		t.Fatalf("expected both messages with derived ids, got %+v", all)
	}
	if !reflect.DeepEqual(named, []string{"hi"}) {
		t.Fatalf("expected only greeting delivered to named listener, got %v", named)
	}
}

func TestIdempotentPublishingAssignsIDs(t *testing.T) {
	h := connected(t, func(options *ClientOptions) {
		options.IdempotentPublishing = true
	})
	channel := h.attach(t, "room", 0)
	original := &protocol.Message{Name: "a"}
	channel.PublishMessages(original, &protocol.Message{Name: "b", ID: "fixed"})

	sent := h.connection.SentWithAction(protocol.ActionMessage)
	if len(sent) != 1 {
		t.Fatalf("expected one protocol message, got %d", len(sent))
	}
	items := sent[0].Messages
	if items[0].ID == "" || items[0].ID[len(items[0].ID)-2:] != ":0" || items[1].ID != "fixed" {
		t.Fatalf("expected generated id for a and kept id for b, got %q and %q", items[0].ID, items[1].ID)
	}
	if original.ID != "" {
		t.Fatalf("expected caller message untouched, got id %q", original.ID)
	}
}

func TestReleaseRemovesChannelAfterDetach(t *testing.T) {
	h := connected(t)
	h.attach(t, "room", 0)

	result := h.realtime.Channels().Release("room")
	if !h.realtime.Channels().Exists("room") {
		t.Fatalf("expected channel kept while detaching")
	}
	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: "room"})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if h.realtime.Channels().Exists("room") {
		t.Fatalf("expected channel removed after DETACHED")
	}
}

func TestFreshConnectionKeepsAcksOfOtherChannels(t *testing.T) {
	h := connected(t)
	first := h.attach(t, "a", 0)
	second := h.attach(t, "b", 0)
	resultA := first.Publish("ma", nil)
	resultB := second.Publish("mb", nil)

	h.connection.SetState(transport.StateDisconnected, errors.New("blip"))
	h.connection.ClearSent()
	h.connection.Open("conn-2")
	h.deliver(attachedMessage("b", 0))
	h.deliver(attachedMessage("a", 0))

	sent := h.connection.SentWithAction(protocol.ActionMessage)
	if names := messageNames(sent); !reflect.DeepEqual(names, []string{"mb", "ma"}) {
		t.Fatalf("expected both messages resent, got %v", names)
	}
	if sent[0].MsgSerial != 0 || sent[1].MsgSerial != 1 {
		t.Fatalf("expected msgSerials restarted at 0, got %d and %d", sent[0].MsgSerial, sent[1].MsgSerial)
	}

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: 2})
	if err := waitResult(t, resultA); err != nil {
		t.Fatalf("expected ma acknowledged, got %v", err)
	}
	if err := waitResult(t, resultB); err != nil {
		t.Fatalf("expected mb acknowledged, got %v", err)
	}
}

func TestPublishWhileSuspendedIsQueued(t *testing.T) {
	h := connected(t)
	channel := h.attach(t, "room", 0)
	h.connection.SetState(transport.StateSuspended, errors.New("network down"))
	waitState(t, channel, ChannelSuspended)
	h.connection.ClearSent()

	message := channel.Publish("held", nil)
	enter := channel.Presence().Enter("hi")
	assertPending(t, message)
	assertPending(t, enter)
	if sent := h.connection.Sent(); len(sent) != 0 {
		t.Fatalf("expected nothing sent while suspended, got %v", sent)
	}
	assertCode(t, channel.Attach().Err(), KindState, CodeConnectionSuspended)

	h.connection.Open("conn-2")
	h.deliver(attachedMessage("room", 0))
	if names := messageNames(h.connection.SentWithAction(protocol.ActionMessage)); !reflect.DeepEqual(names, []string{"held"}) {
		t.Fatalf("expected held publish flushed after re-attach, got %v", names)
	}
	if presence := h.connection.SentWithAction(protocol.ActionPresence); len(presence) == 0 {
		t.Fatalf("expected queued ENTER flushed after re-attach")
	}
}

func TestPublishRacingAttachedSendsEveryMessageOnce(t *testing.T) {
	const publishers = 50
	h := connected(t)
	channel := h.realtime.Channels().Get("room")
	attach := channel.Attach()

	results := make([]*Result, publishers)
	var group sync.WaitGroup
	start := make(chan struct{})
	for index := 0; index < publishers; index++ {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			<-start
			results[index] = channel.Publish(fmt.Sprintf("m%d", index), index)
		}(index)
	}
	group.Add(1)
	go func() {
		defer group.Done()
		<-start
		h.deliver(attachedMessage("room", 0))
	}()
	close(start)
	group.Wait()

	if err := waitResult(t, attach); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	counts := map[string]int{}
	for _, name := range messageNames(h.connection.SentWithAction(protocol.ActionMessage)) {
		counts[name]++
	}
	for index := 0; index < publishers; index++ {
		if name := fmt.Sprintf("m%d", index); counts[name] != 1 {
			t.Fatalf("expected %s sent once, got %d", name, counts[name])
		}
	}

	h.deliver(&protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: 0, Count: publishers})
	for index, result := range results {
		if err := waitResult(t, result); err != nil {
			t.Fatalf("expected m%d acknowledged, got %v", index, err)
		}
	}
}
