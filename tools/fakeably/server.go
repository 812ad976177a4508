package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

type config struct {
	keys              map[string]string
	jwtSecret         []byte
	denyPublish       []string
	denyAttach        []string
	historyMax        int
	syncPageSize      int
	heartbeatInterval time.Duration
	resumeWindow      time.Duration
	outboundDepth     int
	serveMetrics      bool
	logger            *slog.Logger
	clock             clock.Clock
}

// ---------------------------------------------------------------------------
// Server state
//
// A single lock guards channels and connections. Outbound frames are only
// queued while it is held, so every subscriber observes a channel's
// messages in the same order.
// ---------------------------------------------------------------------------

type server struct {
	config   config
	auth     *authStore
	logger   *slog.Logger
	metrics  *serverMetrics
	clock    clock.Clock
	upgrader websocket.Upgrader

	lock        sync.Mutex
	channels    map[string]*channelState
	connections map[string]*clientConnection // by connection key
	nextID      uint64
	nextSync    uint64
	closed      bool
}

type channelState struct {
	name           string
	attached       map[*clientConnection]struct{}
	members        map[string]*protocol.PresenceMessage // by member key
	history        *history
	serial         int64
	presenceSerial int64
}

// clientConnection outlives its socket: a dropped connection keeps its
// attachments and presence, and buffers outbound frames, until it is
// resumed or the resume window passes.
type clientConnection struct {
	id        string
	key       string
	identity  principal
	clientID  string
	writer    *socketWriter // nil while dropped
	backlog   []*protocol.ProtocolMessage
	droppedAt time.Time
	channels  map[string]struct{}
	closed    bool
}

func newServer(cfg config) *server {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	if cfg.syncPageSize <= 0 {
		cfg.syncPageSize = 100
	}
	return &server{
		config: cfg,
		auth: &authStore{
			keys:        cfg.keys,
			jwtSecret:   cfg.jwtSecret,
			denyPublish: cfg.denyPublish,
			denyAttach:  cfg.denyAttach,
		},
		logger:      cfg.logger,
		metrics:     newServerMetrics(),
		clock:       cfg.clock,
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		channels:    make(map[string]*channelState),
		connections: make(map[string]*clientConnection),
	}
}

func (srv *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", srv.handleRealtime)
	mux.HandleFunc("GET /time", srv.handleTime)
	mux.HandleFunc("GET /channels/{channel}/messages", srv.handleHistory)
	mux.HandleFunc("POST /channels/{channel}/messages", srv.handlePublish)
	mux.HandleFunc("GET /channels/{channel}/presence", srv.handlePresence)
	mux.HandleFunc("GET /admin/status", srv.handleStatus)
	if srv.config.serveMetrics {
		mux.Handle("GET /metrics", srv.metrics.handler())
	}
	return mux
}

// Close drops every socket. Connections are not resumable afterwards.
func (srv *server) Close() {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	srv.closed = true
	for _, connection := range srv.connections {
		if connection.writer != nil {
			connection.writer.close()
		}
	}
	srv.connections = make(map[string]*clientConnection)
}

func (srv *server) now() int64 {
	return srv.clock.Now().UnixMilli()
}

// ---------------------------------------------------------------------------
// Realtime connections
// ---------------------------------------------------------------------------

func frameCodec(format string) codec.Codec {
	return codec.ForBinary(format == codec.CBOR.Format())
}

func (srv *server) handleRealtime(w http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	identity, authErr := srv.auth.authenticateQuery(request)
	clientID := query.Get("clientId")
	if authErr == nil && identity.clientID != "" {
		if clientID != "" && clientID != identity.clientID {
			authErr = &protocol.ErrorInfo{Code: 40102, StatusCode: http.StatusUnauthorized, Message: "clientId mismatch"}
		}
		clientID = identity.clientID
	}

	conn, err := srv.upgrader.Upgrade(w, request, nil)
	if err != nil {
		srv.logger.Debug("upgrade failed", slog.Any("error", err))
		return
	}
	frames := frameCodec(query.Get("format"))
	writer := newSocketWriter(conn, frames, srv.config.outboundDepth, srv.config.heartbeatInterval, srv.clock, srv.logger, srv.metrics)

	if authErr != nil {
		srv.logger.Info("connection rejected", slog.Int("code", authErr.Code))
		writer.closeAfter(&protocol.ProtocolMessage{Action: protocol.ActionError, Error: authErr})
		<-writer.done
		return
	}

	connection := srv.open(query.Get("resume"), identity, clientID, writer)
	if connection == nil {
		writer.closeAfter(&protocol.ProtocolMessage{
			Action: protocol.ActionError,
			Error:  &protocol.ErrorInfo{Code: 80000, StatusCode: http.StatusServiceUnavailable, Message: "server closing"},
		})
		<-writer.done
		return
	}
	srv.metrics.connections.Inc()
	defer srv.metrics.connections.Dec()

	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if frameType != websocket.TextMessage && frameType != websocket.BinaryMessage {
			continue
		}
		var message protocol.ProtocolMessage
		if err := frames.Unmarshal(data, &message); err != nil {
			srv.logger.Warn("undecodable frame", slog.String("connection", connection.id), slog.Any("error", err))
			continue
		}
		srv.metrics.framesIn.WithLabelValues(message.Action.String()).Inc()
		srv.handleMessage(connection, writer, &message)
	}
	srv.dropped(connection, writer)
	writer.close()
	<-writer.done
}

// open resumes the connection identified by resumeKey, or creates one.
// It returns nil once the server is closed.
func (srv *server) open(resumeKey string, identity principal, clientID string, writer *socketWriter) *clientConnection {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.closed {
		return nil
	}
	srv.sweepExpiredLocked()
	srv.metrics.accepted.Inc()

	connected := &protocol.ProtocolMessage{Action: protocol.ActionConnected}
	if resumeKey != "" {
		if connection, ok := srv.connections[resumeKey]; ok && connection.clientID == clientID {
			if connection.writer != nil {
				connection.writer.close()
			}
			connection.writer = writer
			connection.droppedAt = time.Time{}
			connected.ConnectionID = connection.id
			connected.ConnectionKey = connection.key
			writer.enqueue(connected)
			for _, message := range connection.backlog {
				writer.enqueue(message)
			}
			connection.backlog = nil
			srv.metrics.resumed.Inc()
			srv.logger.Info("connection resumed", slog.String("connection", connection.id))
			return connection
		}
		connected.Error = &protocol.ErrorInfo{Code: 80008, StatusCode: http.StatusBadRequest, Message: "unable to resume connection"}
	}

	srv.nextID++
	connection := &clientConnection{
		id:       "conn-" + strconv.FormatUint(srv.nextID, 10),
		key:      uuid.NewString(),
		identity: identity,
		clientID: clientID,
		writer:   writer,
		channels: make(map[string]struct{}),
	}
	srv.connections[connection.key] = connection
	connected.ConnectionID = connection.id
	connected.ConnectionKey = connection.key
	writer.enqueue(connected)
	srv.logger.Info("connection opened",
		slog.String("connection", connection.id),
		slog.String("key_name", identity.keyName),
		slog.String("client_id", clientID))
	return connection
}

// dropped detaches writer from connection unless a resume already replaced
// it.
func (srv *server) dropped(connection *clientConnection, writer *socketWriter) {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if connection.writer != writer {
		return
	}
	connection.writer = nil
	if !connection.closed {
		connection.droppedAt = srv.clock.Now()
		srv.logger.Info("connection dropped", slog.String("connection", connection.id))
	}
}

func (srv *server) sweepExpiredLocked() {
	now := srv.clock.Now()
	for _, connection := range srv.connections {
		if connection.writer == nil && !connection.droppedAt.IsZero() && now.Sub(connection.droppedAt) > srv.config.resumeWindow {
			srv.logger.Info("connection expired", slog.String("connection", connection.id))
			srv.discardLocked(connection)
		}
	}
}

// discardLocked forgets connection, leaving its presence on every channel.
func (srv *server) discardLocked(connection *clientConnection) {
	connection.closed = true
	delete(srv.connections, connection.key)
	for name := range connection.channels {
		if channel, ok := srv.channels[name]; ok {
			delete(channel.attached, connection)
			srv.leaveMembersLocked(channel, connection)
		}
	}
	connection.channels = nil
	connection.backlog = nil
}

// sendLocked queues message on the socket, or in the backlog while the
// socket is gone or closing.
func (srv *server) sendLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	if connection.writer != nil && connection.writer.enqueue(message) {
		return
	}
	if len(connection.backlog) < srv.config.outboundDepth {
		connection.backlog = append(connection.backlog, message)
	}
}

func (srv *server) handleMessage(connection *clientConnection, writer *socketWriter, message *protocol.ProtocolMessage) {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if connection.closed || connection.writer != writer {
		return
	}
	switch message.Action {
	case protocol.ActionHeartbeat:
		srv.sendLocked(connection, &protocol.ProtocolMessage{Action: protocol.ActionHeartbeat})
	case protocol.ActionClose:
		writer.closeAfter(&protocol.ProtocolMessage{Action: protocol.ActionClosed})
		srv.discardLocked(connection)
		srv.logger.Info("connection closed", slog.String("connection", connection.id))
	case protocol.ActionAttach:
		srv.attachLocked(connection, message)
	case protocol.ActionDetach:
		srv.detachLocked(connection, message)
	case protocol.ActionMessage:
		srv.publishFromConnectionLocked(connection, message)
	case protocol.ActionPresence:
		srv.presenceLocked(connection, message)
	case protocol.ActionSync:
		if channel, ok := srv.channels[message.Channel]; ok {
			_, cursor, _ := protocol.ParseSyncSerial(message.ChannelSerial)
			from, _ := strconv.Atoi(cursor)
			srv.syncLocked(connection, channel, from)
		}
	default:
		srv.logger.Debug("ignoring action", slog.String("action", message.Action.String()))
	}
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

func (srv *server) channelLocked(name string) *channelState {
	channel, ok := srv.channels[name]
	if !ok {
		channel = &channelState{
			name:     name,
			attached: make(map[*clientConnection]struct{}),
			members:  make(map[string]*protocol.PresenceMessage),
			history:  newHistory(srv.config.historyMax),
		}
		srv.channels[name] = channel
	}
	return channel
}

func (srv *server) attachLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	if !srv.auth.canAttach(message.Channel) {
		srv.sendLocked(connection, &protocol.ProtocolMessage{
			Action:  protocol.ActionError,
			Channel: message.Channel,
			Error:   capabilityError("attach", message.Channel),
		})
		return
	}
	channel := srv.channelLocked(message.Channel)
	channel.attached[connection] = struct{}{}
	connection.channels[channel.name] = struct{}{}

	attached := &protocol.ProtocolMessage{
		Action:        protocol.ActionAttached,
		Channel:       channel.name,
		ChannelSerial: channel.name + "@" + strconv.FormatInt(channel.serial, 10),
	}
	if len(channel.members) > 0 {
		attached.SetFlag(protocol.FlagHasPresence)
	}
	srv.sendLocked(connection, attached)
	if len(channel.members) > 0 {
		srv.syncLocked(connection, channel, 0)
	}
}

func (srv *server) detachLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	if channel, ok := srv.channels[message.Channel]; ok {
		delete(channel.attached, connection)
		srv.leaveMembersLocked(channel, connection)
	}
	delete(connection.channels, message.Channel)
	srv.sendLocked(connection, &protocol.ProtocolMessage{Action: protocol.ActionDetached, Channel: message.Channel})
}

func (srv *server) fanoutLocked(channel *channelState, message *protocol.ProtocolMessage) {
	for connection := range channel.attached {
		srv.sendLocked(connection, message)
	}
}

// publishLocked stores and fans out messages. Missing ids are derived from
// protocolID and the message index.
func (srv *server) publishLocked(channelName string, protocolID string, connectionID string, clientID string, messages []*protocol.Message, transportName string) {
	channel := srv.channelLocked(channelName)
	now := srv.now()
	stamped := make([]*protocol.Message, 0, len(messages))
	for index, message := range messages {
		if message == nil {
			continue
		}
		copied := *message
		if copied.ID == "" {
			copied.ID = protocolID + ":" + strconv.Itoa(index)
		}
		if copied.ClientID == "" {
			copied.ClientID = clientID
		}
		copied.ConnectionID = connectionID
		if copied.Timestamp == 0 {
			copied.Timestamp = now
		}
		channel.history.append(&copied)
		stamped = append(stamped, &copied)
	}
	channel.serial++
	srv.metrics.published.WithLabelValues(transportName).Add(float64(len(stamped)))
	srv.fanoutLocked(channel, &protocol.ProtocolMessage{
		Action:        protocol.ActionMessage,
		Channel:       channel.name,
		ChannelSerial: channel.name + "@" + strconv.FormatInt(channel.serial, 10),
		ID:            protocolID,
		ConnectionID:  connectionID,
		Timestamp:     now,
		Messages:      stamped,
	})
}

func (srv *server) publishFromConnectionLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	if !srv.auth.canPublish(message.Channel) {
		srv.nackLocked(connection, message, capabilityError("publish", message.Channel))
		return
	}
	protocolID := connection.id + ":" + strconv.FormatInt(message.MsgSerial, 10)
	srv.publishLocked(message.Channel, protocolID, connection.id, connection.clientID, message.Messages, "realtime")
	srv.ackLocked(connection, message)
}

func (srv *server) ackLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	srv.sendLocked(connection, &protocol.ProtocolMessage{Action: protocol.ActionAck, MsgSerial: message.MsgSerial, Count: 1})
}

func (srv *server) nackLocked(connection *clientConnection, message *protocol.ProtocolMessage, info *protocol.ErrorInfo) {
	srv.logger.Info("message rejected",
		slog.String("connection", connection.id),
		slog.String("channel", message.Channel),
		slog.Int("code", info.Code))
	srv.sendLocked(connection, &protocol.ProtocolMessage{Action: protocol.ActionNack, MsgSerial: message.MsgSerial, Count: 1, Error: info})
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

func (srv *server) presenceLocked(connection *clientConnection, message *protocol.ProtocolMessage) {
	channel, ok := srv.channels[message.Channel]
	if ok {
		_, ok = channel.attached[connection]
	}
	if !ok {
		srv.nackLocked(connection, message, &protocol.ErrorInfo{Code: 90001, StatusCode: http.StatusBadRequest, Message: "channel not attached"})
		return
	}
	for _, item := range message.Presence {
		if item != nil && item.ClientID == "" && connection.clientID == "" {
			srv.nackLocked(connection, message, &protocol.ErrorInfo{Code: 40012, StatusCode: http.StatusBadRequest, Message: "clientId required for presence"})
			return
		}
	}

	protocolID := connection.id + ":" + strconv.FormatInt(message.MsgSerial, 10)
	now := srv.now()
	events := make([]*protocol.PresenceMessage, 0, len(message.Presence))
	for index, item := range message.Presence {
		if item == nil {
			continue
		}
		event := item.Clone()
		if event.ClientID == "" {
			event.ClientID = connection.clientID
		}
		event.ConnectionID = connection.id
		event.ID = protocolID + ":" + strconv.Itoa(index)
		event.Timestamp = now
		if applied := srv.applyPresenceLocked(channel, event); applied != nil {
			events = append(events, applied)
		}
	}
	srv.ackLocked(connection, message)
	if len(events) > 0 {
		srv.fanoutLocked(channel, &protocol.ProtocolMessage{
			Action:       protocol.ActionPresence,
			Channel:      channel.name,
			ID:           protocolID,
			ConnectionID: connection.id,
			Timestamp:    now,
			Presence:     events,
		})
	}
}

// applyPresenceLocked updates the member set and returns the event to
// broadcast, or nil when the event changes nothing.
func (srv *server) applyPresenceLocked(channel *channelState, event *protocol.PresenceMessage) *protocol.PresenceMessage {
	channel.presenceSerial++
	event.Serial = channel.presenceSerial
	key := event.MemberKey()
	_, present := channel.members[key]
	switch event.Action {
	case protocol.PresenceEnter, protocol.PresenceUpdate, protocol.PresencePresent:
		if event.Action == protocol.PresenceEnter && present {
			event.Action = protocol.PresenceUpdate
		}
		if event.Action == protocol.PresencePresent {
			event.Action = protocol.PresenceEnter
		}
		member := event.Clone()
		member.Action = protocol.PresencePresent
		channel.members[key] = member
		return event
	case protocol.PresenceLeave:
		if !present {
			return nil
		}
		delete(channel.members, key)
		return event
	}
	return nil
}

// leaveMembersLocked removes and announces every member connection holds on
// channel.
func (srv *server) leaveMembersLocked(channel *channelState, connection *clientConnection) {
	var leaves []*protocol.PresenceMessage
	now := srv.now()
	for _, member := range sortedMembers(channel) {
		if member.ConnectionID != connection.id {
			continue
		}
		leave := member.Clone()
		leave.Action = protocol.PresenceLeave
		leave.Timestamp = now
		if srv.applyPresenceLocked(channel, leave) != nil {
			leaves = append(leaves, leave)
		}
	}
	if len(leaves) > 0 {
		srv.fanoutLocked(channel, &protocol.ProtocolMessage{
			Action:    protocol.ActionPresence,
			Channel:   channel.name,
			Timestamp: now,
			Presence:  leaves,
		})
	}
}

// syncLocked sends the member set to connection from offset from, in pages.
// Every page but the last carries a cursor.
func (srv *server) syncLocked(connection *clientConnection, channel *channelState, from int) {
	srv.nextSync++
	syncID := "sync" + strconv.FormatUint(srv.nextSync, 10)
	members := sortedMembers(channel)
	if from < 0 || from > len(members) {
		from = 0
	}
	pageSize := srv.config.syncPageSize
	for offset := from; ; offset += pageSize {
		end := min(offset+pageSize, len(members))
		cursor := ""
		if end < len(members) {
			cursor = strconv.Itoa(end)
		}
		page := make([]*protocol.PresenceMessage, 0, end-offset)
		for _, member := range members[offset:end] {
			page = append(page, member.Clone())
		}
		srv.sendLocked(connection, &protocol.ProtocolMessage{
			Action:        protocol.ActionSync,
			Channel:       channel.name,
			ChannelSerial: fmt.Sprintf("%s:%s", syncID, cursor),
			Presence:      page,
		})
		if cursor == "" {
			return
		}
	}
}

func sortedMembers(channel *channelState) []*protocol.PresenceMessage {
	members := make([]*protocol.PresenceMessage, 0, len(channel.members))
	for _, member := range channel.members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].MemberKey() < members[j].MemberKey()
	})
	return members
}
