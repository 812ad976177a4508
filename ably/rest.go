package ably

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// HistoryParams filters a history query. Zero values are omitted.
type HistoryParams struct {
	Start time.Time
	End   time.Time
	Limit int
	// Direction is "forwards" or "backwards".
	Direction string
}

func (params HistoryParams) values() url.Values {
	values := url.Values{}
	if !params.Start.IsZero() {
		values.Set("start", strconv.FormatInt(params.Start.UnixMilli(), 10))
	}
	if !params.End.IsZero() {
		values.Set("end", strconv.FormatInt(params.End.UnixMilli(), 10))
	}
	if params.Limit > 0 {
		values.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Direction != "" {
		values.Set("direction", params.Direction)
	}
	return values
}

// PresenceParams filters a REST presence query.
type PresenceParams struct {
	Limit        int
	ClientID     string
	ConnectionID string
}

func (params PresenceParams) values() url.Values {
	values := url.Values{}
	if params.Limit > 0 {
		values.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.ClientID != "" {
		values.Set("clientId", params.ClientID)
	}
	if params.ConnectionID != "" {
		values.Set("connectionId", params.ConnectionID)
	}
	return values
}

// Rest is the request/response client. Every call goes through the
// RequestExecutor.
type Rest struct {
	options  ClientOptions
	auth     *Auth
	executor *RequestExecutor
}

// NewRest returns a REST client for options.
func NewRest(options ClientOptions) (*Rest, error) {
	options = options.withDefaults()
	if options.authMode() == AuthNone {
		return nil, NewError(KindAuth, CodeNoCredentials, "no key, token or token source configured")
	}
	auth := NewAuth(options)
	return newRest(options, auth, newMetrics(options.MetricsRegisterer)), nil
}

func newRest(options ClientOptions, auth *Auth, collectors *metrics) *Rest {
	return &Rest{
		options:  options,
		auth:     auth,
		executor: newRequestExecutor(options, auth, collectors),
	}
}

// Auth returns the authenticator used by the client.
func (rest *Rest) Auth() *Auth {
	return rest.auth
}

// Executor returns the request executor.
func (rest *Rest) Executor() *RequestExecutor {
	return rest.executor
}

// Time returns the server time.
func (rest *Rest) Time(ctx context.Context) (time.Time, error) {
	response, err := rest.executor.Execute(ctx, &Request{Method: http.MethodGet, Path: "/time"}, AuthNone)
	if err != nil {
		return time.Time{}, err
	}
	var times []int64
	if err := response.Decode(&times); err != nil {
		return time.Time{}, err
	}
	if len(times) == 0 {
		return time.Time{}, NewError(KindProtocol, CodeInternal, "empty time response")
	}
	return time.UnixMilli(times[0]), nil
}

// History returns the stored messages of channelName.
func (rest *Rest) History(ctx context.Context, channelName string, params HistoryParams) ([]*protocol.Message, error) {
	response, err := rest.executor.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   channelPath(channelName, "messages"),
		Query:  params.values(),
	}, rest.options.authMode())
	if err != nil {
		return nil, err
	}
	var messages []*protocol.Message
	if err := response.Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PresenceGet returns the current members of channelName.
func (rest *Rest) PresenceGet(ctx context.Context, channelName string, params PresenceParams) ([]*protocol.PresenceMessage, error) {
	response, err := rest.executor.Execute(ctx, &Request{
		Method: http.MethodGet,
		Path:   channelPath(channelName, "presence"),
		Query:  params.values(),
	}, rest.options.authMode())
	if err != nil {
		return nil, err
	}
	var members []*protocol.PresenceMessage
	if err := response.Decode(&members); err != nil {
		return nil, err
	}
	return members, nil
}

// Publish posts messages to channelName.
func (rest *Rest) Publish(ctx context.Context, channelName string, messages ...*protocol.Message) error {
	if len(messages) == 0 {
		return nil
	}
	outbound := make([]*protocol.Message, len(messages))
	baseID := ""
	if rest.options.IdempotentPublishing {
		baseID = uuid.NewString()
	}
	for index, message := range messages {
		copied := *message
		if copied.ID == "" && baseID != "" {
			copied.ID = fmt.Sprintf("%s:%d", baseID, index)
		}
		outbound[index] = &copied
	}
	body, err := rest.executor.Codec().Marshal(outbound)
	if err != nil {
		return NewError(KindState, CodeInternal, "encode messages").WithCause(err)
	}
	_, err = rest.executor.Execute(ctx, &Request{
		Method: http.MethodPost,
		Path:   channelPath(channelName, "messages"),
		Body:   body,
	}, rest.options.authMode())
	return err
}

func channelPath(channelName string, resource string) string {
	return "/channels/" + url.PathEscape(channelName) + "/" + resource
}
