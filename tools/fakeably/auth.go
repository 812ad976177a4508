package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ---------------------------------------------------------------------------
// Authentication & capabilities
//
// Two credential forms are accepted:
//   - API keys "name:secret", as the "key" query parameter or HTTP Basic
//   - HS256 tokens signed with the configured secret, as "access_token" or
//     a Bearer header carrying the base64 of the token
// Capabilities are global deny lists of channel patterns.
// ---------------------------------------------------------------------------

const clientIDClaim = "x-ably-clientId"

// principal is the authenticated identity of a request or connection.
type principal struct {
	keyName  string
	clientID string
}

type authStore struct {
	keys        map[string]string // key name -> secret
	jwtSecret   []byte
	denyPublish []string
	denyAttach  []string
}

func parseKeys(raw []string) (map[string]string, error) {
	keys := make(map[string]string, len(raw))
	for _, key := range raw {
		name, secret, ok := strings.Cut(key, ":")
		if !ok || name == "" || secret == "" {
			return nil, fmt.Errorf("key %q is not name:secret", key)
		}
		keys[name] = secret
	}
	return keys, nil
}

func authError(code int, message string) *protocol.ErrorInfo {
	return &protocol.ErrorInfo{Code: code, StatusCode: http.StatusUnauthorized, Message: message}
}

// authenticateKey checks a "name:secret" key.
func (store *authStore) authenticateKey(key string) (principal, *protocol.ErrorInfo) {
	name, secret, ok := strings.Cut(key, ":")
	if !ok {
		return principal{}, authError(40101, "malformed key")
	}
	expected, exists := store.keys[name]
	if !exists || expected != secret {
		return principal{}, authError(40101, "invalid credentials")
	}
	return principal{keyName: name}, nil
}

// authenticateToken verifies an HS256 token. Expired tokens report 40142 so
// clients renew; every other failure is 40140.
func (store *authStore) authenticateToken(token string) (principal, *protocol.ErrorInfo) {
	if len(store.jwtSecret) == 0 {
		return principal{}, authError(40140, "token auth disabled")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(parsed *jwt.Token) (any, error) {
		return store.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return principal{}, authError(40142, "token expired")
	}
	if err != nil {
		return principal{}, authError(40140, "invalid token")
	}
	identity := principal{keyName: "token"}
	if clientID, ok := claims[clientIDClaim].(string); ok {
		identity.clientID = clientID
	}
	return identity, nil
}

// authenticateRequest resolves the Authorization header of a REST request.
func (store *authStore) authenticateRequest(request *http.Request) (principal, *protocol.ErrorInfo) {
	header := request.Header.Get("Authorization")
	scheme, credentials, ok := strings.Cut(header, " ")
	if !ok {
		return principal{}, authError(40101, "missing credentials")
	}
	decoded, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		return principal{}, authError(40101, "malformed credentials")
	}
	switch strings.ToLower(scheme) {
	case "basic":
		return store.authenticateKey(string(decoded))
	case "bearer":
		return store.authenticateToken(string(decoded))
	}
	return principal{}, authError(40101, "unsupported authorization scheme")
}

// authenticateQuery resolves the credentials of a realtime connect request.
func (store *authStore) authenticateQuery(request *http.Request) (principal, *protocol.ErrorInfo) {
	query := request.URL.Query()
	if key := query.Get("key"); key != "" {
		return store.authenticateKey(key)
	}
	if token := query.Get("access_token"); token != "" {
		return store.authenticateToken(token)
	}
	return principal{}, authError(40101, "missing credentials")
}

func (store *authStore) canPublish(channel string) bool {
	return !matchesAny(channel, store.denyPublish)
}

func (store *authStore) canAttach(channel string) bool {
	return !matchesAny(channel, store.denyAttach)
}

func capabilityError(operation string, channel string) *protocol.ErrorInfo {
	return &protocol.ErrorInfo{
		Code:       40160,
		StatusCode: http.StatusUnauthorized,
		Message:    fmt.Sprintf("%s not permitted on channel %q", operation, channel),
	}
}

// ---------------------------------------------------------------------------
// Channel patterns
//
//   - "*" matches every channel
//   - a trailing "*" matches by prefix: "private:*" matches "private:a"
//   - anything else matches exactly
// ---------------------------------------------------------------------------

func channelMatches(channel string, pattern string) bool {
	if pattern == "*" || channel == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return false
}

func matchesAny(channel string, patterns []string) bool {
	for _, pattern := range patterns {
		if channelMatches(channel, pattern) {
			return true
		}
	}
	return false
}
