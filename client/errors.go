package client

import "fmt"

// ErrorCode classifies failures surfaced through the error callback and the
// error returns of blocking calls.
type ErrorCode string

const (
	// ConnectionFailed: the signaling transport failed to open or was refused.
	ConnectionFailed ErrorCode = "ConnectionFailed"
	// SignalingError: the server reported a protocol-level problem.
	SignalingError ErrorCode = "SignalingError"
	// PeerNotFound: the addressed peer is not registered at the server.
	PeerNotFound ErrorCode = "PeerNotFound"
	// ChannelNotOpen: a direct send was attempted without an open data channel.
	ChannelNotOpen ErrorCode = "ChannelNotOpen"
	// Timeout: a blocking operation exceeded its deadline.
	Timeout ErrorCode = "Timeout"
	// InvalidData: a received payload could not be decoded.
	InvalidData ErrorCode = "InvalidData"
	// InternalError: an unexpected failure inside the WebRTC stack.
	InternalError ErrorCode = "InternalError"
	// RelayAuthFailed: the server rejected the relay secret.
	RelayAuthFailed ErrorCode = "RelayAuthFailed"
	// RelayNotAuthenticated: a relay operation was attempted before a
	// successful AuthenticateRelay.
	RelayNotAuthenticated ErrorCode = "RelayNotAuthenticated"
)

// Error is the typed failure surfaced to callers and callbacks.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
