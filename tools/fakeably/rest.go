package main

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ---------------------------------------------------------------------------
// REST endpoints
//
//   GET  /time                        server time, unauthenticated
//   GET  /channels/{channel}/messages history (start, end, limit, direction)
//   POST /channels/{channel}/messages publish one message or an array
//   GET  /channels/{channel}/presence members (clientId, connectionId, limit)
//   GET  /admin/status                connection and channel summary
//
// Responses use the codec named by Accept, JSON by default. Errors carry
// {"error": ErrorInfo}.
// ---------------------------------------------------------------------------

const maxBodyBytes = 1 << 20

func mediaCodec(header string) codec.Codec {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return codec.JSON
	}
	chosen, err := codec.ForContentType(mediaType)
	if err != nil {
		return codec.JSON
	}
	return chosen
}

func (srv *server) respond(w http.ResponseWriter, request *http.Request, route string, status int, body any) {
	responseCodec := mediaCodec(request.Header.Get("Accept"))
	encoded, err := responseCodec.Marshal(body)
	if err != nil {
		srv.logger.Error("encode response", slog.String("route", route), slog.Any("error", err))
		status = http.StatusInternalServerError
		encoded = nil
	}
	srv.metrics.restCalls.WithLabelValues(route, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", responseCodec.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func (srv *server) respondError(w http.ResponseWriter, request *http.Request, route string, info *protocol.ErrorInfo) {
	status := info.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	srv.respond(w, request, route, status, map[string]*protocol.ErrorInfo{"error": info})
}

func badRequest(message string) *protocol.ErrorInfo {
	return &protocol.ErrorInfo{Code: 40000, StatusCode: http.StatusBadRequest, Message: message}
}

func (srv *server) authorized(w http.ResponseWriter, request *http.Request, route string) (principal, bool) {
	identity, info := srv.auth.authenticateRequest(request)
	if info != nil {
		srv.respondError(w, request, route, info)
		return principal{}, false
	}
	return identity, true
}

func (srv *server) handleTime(w http.ResponseWriter, request *http.Request) {
	srv.respond(w, request, "time", http.StatusOK, []int64{srv.now()})
}

func (srv *server) handleHistory(w http.ResponseWriter, request *http.Request) {
	const route = "history"
	if _, ok := srv.authorized(w, request, route); !ok {
		return
	}
	values := request.URL.Query()
	query := historyQuery{forwards: values.Get("direction") == "forwards"}
	for name, target := range map[string]*int64{"start": &query.start, "end": &query.end} {
		if raw := values.Get(name); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				srv.respondError(w, request, route, badRequest("invalid "+name))
				return
			}
			*target = parsed
		}
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			srv.respondError(w, request, route, badRequest("invalid limit"))
			return
		}
		query.limit = limit
	}
	if direction := values.Get("direction"); direction != "" && direction != "forwards" && direction != "backwards" {
		srv.respondError(w, request, route, badRequest("invalid direction"))
		return
	}

	srv.lock.Lock()
	messages := []*protocol.Message{}
	if channel, ok := srv.channels[request.PathValue("channel")]; ok {
		messages = channel.history.query(query)
	}
	srv.lock.Unlock()
	srv.respond(w, request, route, http.StatusOK, messages)
}

func (srv *server) handlePublish(w http.ResponseWriter, request *http.Request) {
	const route = "publish"
	identity, ok := srv.authorized(w, request, route)
	if !ok {
		return
	}
	channelName := request.PathValue("channel")
	if !srv.auth.canPublish(channelName) {
		srv.respondError(w, request, route, capabilityError("publish", channelName))
		return
	}
	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodyBytes))
	if err != nil {
		srv.respondError(w, request, route, badRequest("unreadable body"))
		return
	}
	bodyCodec := mediaCodec(request.Header.Get("Content-Type"))
	var messages []*protocol.Message
	if err := bodyCodec.Unmarshal(body, &messages); err != nil {
		var single protocol.Message
		if err := bodyCodec.Unmarshal(body, &single); err != nil {
			srv.respondError(w, request, route, badRequest("undecodable messages"))
			return
		}
		messages = []*protocol.Message{&single}
	}

	protocolID := uuid.NewString()
	srv.lock.Lock()
	srv.publishLocked(channelName, protocolID, "", identity.clientID, messages, "rest")
	srv.lock.Unlock()
	srv.respond(w, request, route, http.StatusCreated, map[string]string{"channel": channelName, "messageId": protocolID})
}

func (srv *server) handlePresence(w http.ResponseWriter, request *http.Request) {
	const route = "presence"
	if _, ok := srv.authorized(w, request, route); !ok {
		return
	}
	values := request.URL.Query()
	limit := 100
	if raw := values.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			srv.respondError(w, request, route, badRequest("invalid limit"))
			return
		}
		limit = min(parsed, 1000)
	}
	clientID := values.Get("clientId")
	connectionID := values.Get("connectionId")

	srv.lock.Lock()
	members := []*protocol.PresenceMessage{}
	if channel, ok := srv.channels[request.PathValue("channel")]; ok {
		for _, member := range sortedMembers(channel) {
			if clientID != "" && member.ClientID != clientID {
				continue
			}
			if connectionID != "" && member.ConnectionID != connectionID {
				continue
			}
			members = append(members, member.Clone())
			if len(members) == limit {
				break
			}
		}
	}
	srv.lock.Unlock()
	srv.respond(w, request, route, http.StatusOK, members)
}

type connectionStatus struct {
	ID       string   `json:"id"`
	KeyName  string   `json:"keyName,omitempty"`
	ClientID string   `json:"clientId,omitempty"`
	Open     bool     `json:"open"`
	Backlog  int      `json:"backlog"`
	Channels []string `json:"channels"`
}

type channelStatus struct {
	Name     string `json:"name"`
	Attached int    `json:"attached"`
	Members  int    `json:"members"`
	History  int    `json:"history"`
}

type serverStatus struct {
	Connections []connectionStatus `json:"connections"`
	Channels    []channelStatus    `json:"channels"`
}

func (srv *server) handleStatus(w http.ResponseWriter, request *http.Request) {
	srv.lock.Lock()
	status := serverStatus{Connections: []connectionStatus{}, Channels: []channelStatus{}}
	for _, connection := range srv.connections {
		entry := connectionStatus{
			ID:       connection.id,
			KeyName:  connection.identity.keyName,
			ClientID: connection.clientID,
			Open:     connection.writer != nil,
			Backlog:  len(connection.backlog),
			Channels: []string{},
		}
		for name := range connection.channels {
			entry.Channels = append(entry.Channels, name)
		}
		sort.Strings(entry.Channels)
		status.Connections = append(status.Connections, entry)
	}
	for _, channel := range srv.channels {
		status.Channels = append(status.Channels, channelStatus{
			Name:     channel.name,
			Attached: len(channel.attached),
			Members:  len(channel.members),
			History:  channel.history.count,
		})
	}
	srv.lock.Unlock()
	sort.Slice(status.Connections, func(i, j int) bool { return status.Connections[i].ID < status.Connections[j].ID })
	sort.Slice(status.Channels, func(i, j int) bool { return status.Channels[i].Name < status.Channels[j].Name })
	srv.respond(w, request, "status", http.StatusOK, status)
}
