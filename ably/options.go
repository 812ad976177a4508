package ably

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thejuampi/ably-client-go/ably/codec"
	"github.com/Thejuampi/ably-client-go/ably/transport"
)

const (
	DefaultRestHost               = "rest.ably.io"
	DefaultRealtimeHost           = "realtime.ably.io"
	DefaultHTTPRequestTimeout     = 10 * time.Second
	DefaultHTTPMaxRetryCount      = 3
	DefaultRealtimeRequestTimeout = 10 * time.Second
	DefaultDisconnectedRetry      = 15 * time.Second
	DefaultSuspendedRetry         = 30 * time.Second
	DefaultConnectionStateTTL     = 120 * time.Second
)

// DefaultFallbackHosts are tried in order when the default hosts fail.
var DefaultFallbackHosts = []string{
	"a.ably-realtime.com",
	"b.ably-realtime.com",
	"c.ably-realtime.com",
	"d.ably-realtime.com",
	"e.ably-realtime.com",
}

// TokenSource fetches a fresh token. It is called at most once at a time.
type TokenSource func(ctx context.Context) (string, error)

// ClientOptions configures Rest and Realtime clients. Zero values select
// the defaults documented on each field.
type ClientOptions struct {
	// Key is an API key "name:secret" used for basic auth.
	Key string
	// Token is a fixed token. TokenSource, when set, supplies renewals.
	Token       string
	TokenSource TokenSource
	// UseTokenAuth prefers token auth when both a key and a token source exist.
	UseTokenAuth bool
	ClientID     string

	// RestHost defaults to DefaultRestHost.
	RestHost string
	// RealtimeHost defaults to DefaultRealtimeHost.
	RealtimeHost string
	// FallbackHosts defaults to DefaultFallbackHosts when the hosts are the
	// defaults, and to none otherwise.
	FallbackHosts []string
	// Scheme defaults to "https"; realtime uses the matching websocket scheme.
	Scheme string
	// Port overrides the scheme's default port.
	Port int

	HTTPClient *http.Client
	// HTTPRequestTimeout bounds each attempt. Defaults to 10s.
	HTTPRequestTimeout time.Duration
	// HTTPMaxRetryCount caps fallback attempts. Defaults to 3.
	HTTPMaxRetryCount int
	// ConnectivityCheckURL, when set, is probed before the first fallback.
	// It must answer "yes".
	ConnectivityCheckURL string

	// RealtimeRequestTimeout bounds attach and detach. Defaults to 10s.
	RealtimeRequestTimeout   time.Duration
	DisconnectedRetryTimeout time.Duration
	// RetryJitter is the largest fraction removed from each disconnected
	// retry delay. Defaults to 0.2; negative disables jitter.
	RetryJitter           float64
	SuspendedRetryTimeout time.Duration
	ConnectionStateTTL    time.Duration
	// AutoConnect dials when the Realtime client is created.
	AutoConnect bool

	UseBinaryProtocol    bool
	IdempotentPublishing bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// MetricsRegisterer receives the client collectors. Nil skips registration.
	MetricsRegisterer prometheus.Registerer

	// Connection replaces the websocket transport.
	Connection transport.Connection
}

func (options ClientOptions) withDefaults() ClientOptions {
	defaultHosts := options.RestHost == "" && options.RealtimeHost == ""
	if options.RestHost == "" {
		options.RestHost = DefaultRestHost
	}
	if options.RealtimeHost == "" {
		options.RealtimeHost = DefaultRealtimeHost
	}
	if options.FallbackHosts == nil && defaultHosts {
		options.FallbackHosts = append([]string(nil), DefaultFallbackHosts...)
	}
	if options.Scheme == "" {
		options.Scheme = "https"
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.HTTPRequestTimeout <= 0 {
		options.HTTPRequestTimeout = DefaultHTTPRequestTimeout
	}
	if options.HTTPMaxRetryCount == 0 {
		options.HTTPMaxRetryCount = DefaultHTTPMaxRetryCount
	}
	if options.HTTPMaxRetryCount < 0 {
		options.HTTPMaxRetryCount = 0
	}
	if options.RealtimeRequestTimeout <= 0 {
		options.RealtimeRequestTimeout = DefaultRealtimeRequestTimeout
	}
	if options.DisconnectedRetryTimeout <= 0 {
		options.DisconnectedRetryTimeout = DefaultDisconnectedRetry
	}
	if options.SuspendedRetryTimeout <= 0 {
		options.SuspendedRetryTimeout = DefaultSuspendedRetry
	}
	if options.ConnectionStateTTL <= 0 {
		options.ConnectionStateTTL = DefaultConnectionStateTTL
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	return options
}

func (options ClientOptions) codec() codec.Codec {
	return codec.ForBinary(options.UseBinaryProtocol)
}

// authMode picks the auth mode requests use.
func (options ClientOptions) authMode() AuthMode {
	switch {
	case options.Key != "" && !options.UseTokenAuth:
		return AuthBasic
	case options.Token != "" || options.TokenSource != nil:
		return AuthToken
	case options.Key != "":
		return AuthBasic
	}
	return AuthNone
}
