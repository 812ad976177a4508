package ably

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// AuthMode selects how a request is authorized.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBasic
	AuthToken
)

func (mode AuthMode) String() string {
	switch mode {
	case AuthNone:
		return "none"
	case AuthBasic:
		return "basic"
	case AuthToken:
		return "token"
	}
	return "unknown"
}

// tokenExpiryMargin renews tokens this long before they expire.
const tokenExpiryMargin = 15 * time.Second

// AuthMaterial is the resolved authorization for one request.
type AuthMaterial struct {
	Mode AuthMode
	// Header is the value of the Authorization header, empty for AuthNone.
	Header string
	// Token is set for AuthToken; Key for AuthBasic.
	Token   string
	Key     string
	Expires time.Time
}

// Authenticator resolves authorization material.
type Authenticator interface {
	ResolveAuthorization(ctx context.Context, mode AuthMode) (AuthMaterial, error)
}

// tokenInvalidator is implemented by authenticators that can drop a token
// the server rejected.
type tokenInvalidator interface {
	InvalidateToken(token string)
}

// Auth resolves basic and token authorization from ClientOptions. Token
// fetches are coalesced: concurrent callers share one TokenSource call.
type Auth struct {
	lock     sync.Mutex
	key      string
	clientID string
	token    string
	expires  time.Time
	source   TokenSource
	clock    clock.Clock
	logger   *slog.Logger
	group    singleflight.Group
}

// NewAuth returns an Auth for options.
func NewAuth(options ClientOptions) *Auth {
	options = options.withDefaults()
	auth := &Auth{
		key:      options.Key,
		clientID: options.ClientID,
		source:   options.TokenSource,
		clock:    options.Clock,
		logger:   options.Logger,
	}
	if options.Token != "" {
		auth.token = options.Token
		auth.expires = tokenExpiry(options.Token)
	}
	return auth
}

// ClientID returns the configured client identity.
func (auth *Auth) ClientID() string {
	if auth == nil {
		return ""
	}
	return auth.clientID
}

// ResolveAuthorization implements Authenticator.
func (auth *Auth) ResolveAuthorization(ctx context.Context, mode AuthMode) (AuthMaterial, error) {
	if auth == nil {
		return AuthMaterial{Mode: AuthNone}, nil
	}
	switch mode {
	case AuthNone:
		return AuthMaterial{Mode: AuthNone}, nil
	case AuthBasic:
		if auth.key == "" {
			return AuthMaterial{}, NewError(KindAuth, CodeNoCredentials, "basic auth requested without a key")
		}
		return AuthMaterial{
			Mode:   AuthBasic,
			Key:    auth.key,
			Header: "Basic " + base64.StdEncoding.EncodeToString([]byte(auth.key)),
		}, nil
	case AuthToken:
		token, expires, err := auth.currentToken(ctx)
		if err != nil {
			return AuthMaterial{}, err
		}
		return AuthMaterial{
			Mode:    AuthToken,
			Token:   token,
			Expires: expires,
			Header:  "Bearer " + base64.StdEncoding.EncodeToString([]byte(token)),
		}, nil
	}
	return AuthMaterial{}, NewError(KindAuth, CodeNoCredentials, "unknown auth mode", int(mode))
}

// Authorize forces a token renewal.
func (auth *Auth) Authorize(ctx context.Context) (AuthMaterial, error) {
	if auth == nil {
		return AuthMaterial{}, NewError(KindAuth, CodeNoCredentials, "no auth configured")
	}
	auth.lock.Lock()
	auth.token = ""
	auth.lock.Unlock()
	return auth.ResolveAuthorization(ctx, AuthToken)
}

// InvalidateToken drops token if it is still the current one.
func (auth *Auth) InvalidateToken(token string) {
	if auth == nil {
		return
	}
	auth.lock.Lock()
	if auth.token == token {
		auth.token = ""
		auth.expires = time.Time{}
	}
	auth.lock.Unlock()
}

func (auth *Auth) currentToken(ctx context.Context) (string, time.Time, error) {
	auth.lock.Lock()
	token, expires := auth.token, auth.expires
	auth.lock.Unlock()

	if token != "" && (expires.IsZero() || auth.clock.Now().Add(tokenExpiryMargin).Before(expires)) {
		return token, expires, nil
	}
	if auth.source == nil {
		if token != "" {
			return "", time.Time{}, NewError(KindAuth, CodeTokenError, "token expired and no token source is configured")
		}
		return "", time.Time{}, NewError(KindAuth, CodeNoCredentials, "token auth requested without a token or token source")
	}

	fetched := auth.group.DoChan("token", func() (interface{}, error) {
		auth.logger.Debug("fetching token")
		fresh, err := auth.source(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		auth.lock.Lock()
		auth.token = fresh
		auth.expires = tokenExpiry(fresh)
		auth.lock.Unlock()
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return "", time.Time{}, NewError(KindCancellation, CodeTokenError, "token fetch cancelled").WithCause(ctx.Err())
	case outcome := <-fetched:
		if outcome.Err != nil {
			if IsKind(outcome.Err, KindAuth) {
				return "", time.Time{}, outcome.Err
			}
			return "", time.Time{}, NewError(KindAuth, CodeTokenError, "token fetch failed").WithCause(outcome.Err)
		}
		auth.lock.Lock()
		expires = auth.expires
		auth.lock.Unlock()
		return outcome.Val.(string), expires, nil
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens report no expiry.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	expiresAt, err := parsed.Claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return time.Time{}
	}
	return expiresAt.Time
}
