// Package main implements fakeably, a deterministic Ably-protocol responder
// for integration testing of the client core. It serves the realtime
// websocket protocol (connect, resume, attach, detach, publish, presence and
// presence sync) and the REST endpoints the client calls (time, history,
// publish, presence), with key and JWT token authentication.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// CLI flags
// ---------------------------------------------------------------------------

var (
	flagAddr         = pflag.String("addr", "127.0.0.1:19100", "listen address for websocket and REST traffic")
	flagKeys         = pflag.StringSlice("key", []string{"app.key:secret"}, "accepted API keys 'name:secret' (repeatable)")
	flagJWTSecret    = pflag.String("jwt-secret", "", "HMAC secret for HS256 tokens; empty disables token auth")
	flagDenyPublish  = pflag.StringSlice("deny-publish", nil, "channel patterns publishes are rejected on (repeatable)")
	flagDenyAttach   = pflag.StringSlice("deny-attach", nil, "channel patterns attaches are rejected on (repeatable)")
	flagHistoryMax   = pflag.Int("history-max", 1000, "messages kept per channel for history queries")
	flagSyncPage     = pflag.Int("sync-page", 100, "presence members per SYNC message")
	flagHeartbeat    = pflag.Duration("heartbeat", 15*time.Second, "idle interval before a HEARTBEAT is sent")
	flagResumeWindow = pflag.Duration("resume-window", 2*time.Minute, "how long a dropped connection can be resumed")
	flagOutDepth     = pflag.Int("out-depth", 4096, "per-connection outbound queue depth")
	flagLogLevel     = pflag.String("log-level", "info", "log level: debug, info, warn, error")
	flagLogJSON      = pflag.Bool("log-json", false, "emit JSON logs")
	flagMetrics      = pflag.Bool("metrics", true, "serve prometheus metrics on /metrics")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakeably: deterministic Ably-protocol responder for integration testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger, err := newLogger(*flagLogLevel, *flagLogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakeably: %v\n", err)
		os.Exit(2)
	}

	keys, err := parseKeys(*flagKeys)
	if err != nil {
		logger.Error("invalid key flag", slog.Any("error", err))
		os.Exit(2)
	}

	srv := newServer(config{
		keys:              keys,
		jwtSecret:         []byte(*flagJWTSecret),
		denyPublish:       *flagDenyPublish,
		denyAttach:        *flagDenyAttach,
		historyMax:        *flagHistoryMax,
		syncPageSize:      *flagSyncPage,
		heartbeatInterval: *flagHeartbeat,
		resumeWindow:      *flagResumeWindow,
		outboundDepth:     *flagOutDepth,
		serveMetrics:      *flagMetrics,
		logger:            logger,
		clock:             clock.New(),
	})

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		logger.Error("listen failed", slog.String("addr", *flagAddr), slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Handler: srv.routes(), ReadHeaderTimeout: 10 * time.Second}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("fakeably listening",
		slog.String("addr", listener.Addr().String()),
		slog.Int("keys", len(keys)),
		slog.Bool("token_auth", *flagJWTSecret != ""),
		slog.Int("deny_publish", len(*flagDenyPublish)),
		slog.Int("deny_attach", len(*flagDenyAttach)),
		slog.Duration("resume_window", *flagResumeWindow))

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level string, json bool) (*slog.Logger, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	options := &slog.HandlerOptions{Level: parsed}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, options)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options)), nil
}
