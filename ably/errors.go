package ably

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// ErrorKind classifies client errors.
type ErrorKind int

const (
	// KindState means the operation is invalid in the current state.
	KindState ErrorKind = iota
	// KindProtocol carries an error reported by the server.
	KindProtocol
	// KindTimeout means no response arrived in the expected window.
	KindTimeout
	// KindNetwork is a transport level failure.
	KindNetwork
	// KindAuth means authorization was rejected or could not be resolved.
	KindAuth
	// KindCancellation means the caller cancelled the operation.
	KindCancellation
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindState:
		return "StateError"
	case KindProtocol:
		return "ProtocolError"
	case KindTimeout:
		return "TimeoutError"
	case KindNetwork:
		return "NetworkError"
	case KindAuth:
		return "AuthError"
	case KindCancellation:
		return "CancellationError"
	}
	return "UnknownError"
}

// Error codes used by the client. Server supplied codes pass through as is.
const (
	CodeUnauthorized           = 40100
	CodeInvalidCredentials     = 40101
	CodeInvalidCredential      = 40102
	CodeTokenError             = 40140
	CodeInsufficientCapability = 40160
	CodeNoCredentials          = 40170
	CodeInternal               = 50000
	CodeTimeout                = 50003
	CodeConnectionFailed       = 80000
	CodeConnectionSuspended    = 80002
	CodeConnectionClosed       = 80017
	CodeChannelOperationFailed = 90000
	CodeChannelInvalidState    = 90001
	CodeDetachTimeout          = 90005
	CodeChannelDetached        = 90006
	CodeAttachTimeout          = 90007
	CodeInvalidClientID        = 91000
)

// Error is the error type returned by every client operation.
type Error struct {
	Kind       ErrorKind
	Code       int
	StatusCode int
	Message    string
	Cause      error

	// token is the token a rejected request carried.
	token string
}

// NewError builds an Error. The optional message parts are joined with spaces.
func NewError(kind ErrorKind, code int, message ...interface{}) *Error {
	parts := make([]string, 0, len(message))
	for _, part := range message {
		parts = append(parts, fmt.Sprint(part))
	}
	return &Error{Kind: kind, Code: code, Message: strings.Join(parts, " ")}
}

func (err *Error) Error() string {
	if err == nil {
		return "<nil>"
	}
	text := fmt.Sprintf("%s %d", err.Kind, err.Code)
	if err.StatusCode != 0 {
		text += fmt.Sprintf(" (status %d)", err.StatusCode)
	}
	if err.Message != "" {
		text += ": " + err.Message
	}
	if err.Cause != nil {
		text += ": " + err.Cause.Error()
	}
	return text
}

func (err *Error) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Cause
}

// WithCause sets the cause and returns err for chaining.
func (err *Error) WithCause(cause error) *Error {
	if err != nil {
		err.Cause = cause
	}
	return err
}

// WithStatus sets the HTTP status and returns err for chaining.
func (err *Error) WithStatus(statusCode int) *Error {
	if err != nil {
		err.StatusCode = statusCode
	}
	return err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.Kind == kind
}

// ErrorCode returns the code of err, or 0 when err is not an *Error.
func ErrorCode(err error) int {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Code
	}
	return 0
}

// errorFromInfo converts a server error into a ProtocolError. Nil info
// yields a generic channel error.
func errorFromInfo(info *protocol.ErrorInfo) *Error {
	if info == nil {
		return NewError(KindProtocol, CodeChannelOperationFailed, "channel operation failed")
	}
	code := info.Code
	if code == 0 {
		code = CodeChannelOperationFailed
	}
	return &Error{Kind: KindProtocol, Code: code, StatusCode: info.StatusCode, Message: info.Message}
}
