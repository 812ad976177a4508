package ably

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/protocol"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

const maxResponseBody = 8 << 20

// Request is one logical REST operation.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a successful REST response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Host served the response; FallbackCount is the number of fallback
	// hosts tried before it.
	Host          string
	FallbackCount int
}

// Decode unmarshals the body with the codec matching its content type.
func (response *Response) Decode(value any) error {
	bodyCodec, err := codec.ForContentType(mediaType(response.Header.Get("Content-Type")))
	if err != nil {
		return NewError(KindProtocol, CodeInternal, "undecodable response").WithCause(err)
	}
	if err := bodyCodec.Unmarshal(response.Body, value); err != nil {
		return NewError(KindProtocol, CodeInternal, "malformed response body").WithCause(err)
	}
	return nil
}

// RequestExecutor sends authenticated requests to the primary host and
// falls back through the fallback hosts on retryable failures.
type RequestExecutor struct {
	client          *http.Client
	scheme          string
	port            int
	hosts           *transport.HostChooser
	maxRetryCount   int
	timeout         time.Duration
	authenticator   Authenticator
	codec           codec.Codec
	connectivityURL string
	logger          *slog.Logger
	metrics         *metrics
}

// operation is the bookkeeping of one Execute call.
type operation struct {
	request       *Request
	mode          AuthMode
	hosts         []string
	fallbackCount int
	tokenRenewed  bool
	attemptErrors []error
}

// NewRequestExecutor returns an executor for options' REST host and
// fallback hosts.
func NewRequestExecutor(options ClientOptions, authenticator Authenticator) *RequestExecutor {
	options = options.withDefaults()
	return newRequestExecutor(options, authenticator, newMetrics(options.MetricsRegisterer))
}

func newRequestExecutor(options ClientOptions, authenticator Authenticator, collectors *metrics) *RequestExecutor {
	return &RequestExecutor{
		client:          options.HTTPClient,
		scheme:          options.Scheme,
		port:            options.Port,
		hosts:           transport.NewHostChooser(options.RestHost, options.FallbackHosts...),
		maxRetryCount:   options.HTTPMaxRetryCount,
		timeout:         options.HTTPRequestTimeout,
		authenticator:   authenticator,
		codec:           options.codec(),
		connectivityURL: options.ConnectivityCheckURL,
		logger:          options.Logger,
		metrics:         collectors,
	}
}

// Codec returns the codec used for request bodies.
func (executor *RequestExecutor) Codec() codec.Codec {
	return executor.codec
}

// Execute runs request. At most min(fallbacks, HTTPMaxRetryCount)+1 hosts
// are tried. Cancelling ctx stops further attempts.
func (executor *RequestExecutor) Execute(ctx context.Context, request *Request, mode AuthMode) (*Response, error) {
	if executor == nil || request == nil {
		return nil, NewError(KindState, CodeInternal, "nil executor or request")
	}
	op := &operation{
		request: request,
		mode:    mode,
		hosts:   executor.hosts.Sequence(executor.maxRetryCount),
	}

	for index := 0; index < len(op.hosts); index++ {
		host := op.hosts[index]
		if err := ctx.Err(); err != nil {
			return nil, op.cancelled(err)
		}
		if index > 0 {
			if index == 1 && executor.connectivityURL != "" && !executor.internetIsUp(ctx) {
				if err := ctx.Err(); err != nil {
					return nil, op.cancelled(err)
				}
				return nil, op.terminal(NewError(KindNetwork, CodeConnectionFailed, "no internet connectivity"))
			}
			op.fallbackCount++
			executor.metrics.fallbackAttempts.Inc()
			executor.logger.Warn("retrying request on fallback host",
				slog.String("path", request.Path),
				slog.String("host", host),
				slog.Int("fallback", op.fallbackCount))
		}

		response, attemptErr, retryable := executor.attempt(ctx, op, host)
		if attemptErr == nil {
			executor.metrics.restRequests.WithLabelValues(host, "success").Inc()
			if index > 0 {
				executor.hosts.ReportSuccess()
			}
			response.FallbackCount = op.fallbackCount
			return response, nil
		}
		op.attemptErrors = append(op.attemptErrors, attemptErr)

		if IsKind(attemptErr, KindCancellation) {
			executor.metrics.restRequests.WithLabelValues(host, "cancelled").Inc()
			return nil, op.cancelled(ctx.Err())
		}
		if executor.renewToken(op, attemptErr) {
			executor.metrics.restRequests.WithLabelValues(host, "token_renewal").Inc()
			index--
			continue
		}
		if !retryable {
			executor.metrics.restRequests.WithLabelValues(host, "error").Inc()
			return nil, op.terminal(attemptErr)
		}
		executor.metrics.restRequests.WithLabelValues(host, "retry").Inc()
		executor.hosts.ReportFailure(attemptErr)
	}

	executor.logger.Warn("request failed on every host",
		slog.String("path", request.Path),
		slog.Int("hosts", len(op.hosts)),
		slog.String("lastError", executor.hosts.Error()))
	last := op.attemptErrors[len(op.attemptErrors)-1]
	return nil, op.terminal(last)
}

// renewToken drops a token the server rejected so the same host is retried
// once with a fresh one.
func (executor *RequestExecutor) renewToken(op *operation, err error) bool {
	if op.tokenRenewed || op.mode != AuthToken {
		return false
	}
	code := ErrorCode(err)
	if code < CodeTokenError || code >= CodeTokenError+10 {
		return false
	}
	invalidator, ok := executor.authenticator.(tokenInvalidator)
	if !ok {
		return false
	}
	var clientErr *Error
	if errors.As(err, &clientErr) {
		invalidator.InvalidateToken(clientErr.token)
	}
	op.tokenRenewed = true
	return true
}

func (op *operation) cancelled(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return NewError(KindCancellation, CodeInternal, "request cancelled after", len(op.attemptErrors), "attempts").WithCause(cause)
}

// terminal returns err carrying every attempt error as its cause.
func (op *operation) terminal(err error) error {
	var clientErr *Error
	if !errors.As(err, &clientErr) {
		return err
	}
	final := *clientErr
	if len(op.attemptErrors) > 1 {
		final.Cause = multierr.Combine(op.attemptErrors...)
	}
	return &final
}

func (executor *RequestExecutor) attempt(ctx context.Context, op *operation, host string) (*Response, error, bool) {
	material := AuthMaterial{Mode: AuthNone}
	if executor.authenticator != nil {
		resolved, err := executor.authenticator.ResolveAuthorization(ctx, op.mode)
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewError(KindCancellation, CodeInternal, "auth cancelled").WithCause(ctx.Err()), false
			}
			if IsKind(err, KindAuth) || IsKind(err, KindCancellation) {
				return nil, err, false
			}
			return nil, NewError(KindAuth, CodeUnauthorized, "resolve authorization").WithCause(err), false
		}
		material = resolved
	}

	attemptCtx, cancel := context.WithTimeout(ctx, executor.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(attemptCtx, op.request.Method, executor.url(host, op.request), bodyReader(op.request.Body))
	if err != nil {
		return nil, NewError(KindState, CodeInternal, "build request").WithCause(err), false
	}
	for name, values := range op.request.Header {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	httpRequest.Header.Set("Accept", executor.codec.ContentType())
	httpRequest.Header.Set("X-Ably-Version", "2")
	if len(op.request.Body) > 0 && httpRequest.Header.Get("Content-Type") == "" {
		httpRequest.Header.Set("Content-Type", executor.codec.ContentType())
	}
	if material.Header != "" {
		httpRequest.Header.Set("Authorization", material.Header)
	}

	httpResponse, err := executor.client.Do(httpRequest)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, NewError(KindCancellation, CodeInternal, "request cancelled").WithCause(ctx.Err()), false
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || isTimeout(err):
			return nil, NewError(KindTimeout, CodeTimeout, "request to", host, "timed out").WithCause(err), true
		}
		return nil, NewError(KindNetwork, CodeConnectionFailed, "request to", host, "failed").WithCause(err), true
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(KindCancellation, CodeInternal, "request cancelled").WithCause(ctx.Err()), false
		}
		return nil, NewError(KindNetwork, CodeConnectionFailed, "read response from", host).WithCause(err), true
	}

	if httpResponse.StatusCode >= 200 && httpResponse.StatusCode < 300 {
		return &Response{
			StatusCode: httpResponse.StatusCode,
			Header:     httpResponse.Header,
			Body:       body,
			Host:       host,
		}, nil, false
	}

	responseErr := executor.responseError(httpResponse, body)
	responseErr.token = material.Token
	retryable := httpResponse.StatusCode >= 500 && httpResponse.StatusCode <= 504
	return nil, responseErr, retryable
}

// responseError builds the error for a non-2xx response from its body.
func (executor *RequestExecutor) responseError(httpResponse *http.Response, body []byte) *Error {
	status := httpResponse.StatusCode
	var info *protocol.ErrorInfo
	if bodyCodec, err := codec.ForContentType(mediaType(httpResponse.Header.Get("Content-Type"))); err == nil && len(body) > 0 {
		var envelope struct {
			Error *protocol.ErrorInfo `json:"error"`
		}
		if bodyCodec.Unmarshal(body, &envelope) == nil {
			info = envelope.Error
		}
	}
	if info == nil {
		info = &protocol.ErrorInfo{Code: status * 100, Message: strings.TrimSpace(string(body))}
		if info.Message == "" {
			info.Message = http.StatusText(status)
		}
	}
	kind := KindProtocol
	if status == http.StatusUnauthorized {
		kind = KindAuth
	} else if status >= 500 {
		kind = KindNetwork
	}
	code := info.Code
	if code == 0 {
		code = status * 100
	}
	return &Error{Kind: kind, Code: code, StatusCode: status, Message: info.Message}
}

// internetIsUp probes the connectivity check URL, which must answer "yes".
func (executor *RequestExecutor) internetIsUp(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, executor.timeout)
	defer cancel()
	httpRequest, err := http.NewRequestWithContext(checkCtx, http.MethodGet, executor.connectivityURL, nil)
	if err != nil {
		return false
	}
	httpResponse, err := executor.client.Do(httpRequest)
	if err != nil {
		executor.logger.Warn("connectivity check failed", slog.Any("error", err))
		return false
	}
	defer httpResponse.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, 64))
	return err == nil && httpResponse.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == "yes"
}

func (executor *RequestExecutor) url(host string, request *Request) string {
	if executor.port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(executor.port))
	}
	target := url.URL{
		Scheme:  executor.scheme,
		Host:    host,
		Path:    request.Path,
		RawPath: request.Path,
	}
	if unescaped, err := url.PathUnescape(request.Path); err == nil {
		target.Path = unescaped
	}
	if len(request.Query) > 0 {
		target.RawQuery = request.Query.Encode()
	}
	return target.String()
}

func bodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}

func mediaType(contentType string) string {
	if index := strings.IndexByte(contentType, ';'); index >= 0 {
		contentType = contentType[:index]
	}
	return strings.TrimSpace(contentType)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
