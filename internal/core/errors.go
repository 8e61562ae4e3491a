// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import "fmt"

// Kind classifies a DisconnectError per the connection error taxonomy.
type Kind string

const (
	KindConnectionClosed    Kind = "ConnectionClosed"
	KindConnectionLost      Kind = "ConnectionLost"
	KindConnectionReplaced  Kind = "ConnectionReplaced"
	KindTimeout             Kind = "Timeout"
	KindLoggedOut           Kind = "LoggedOut"
	KindRestartRequired     Kind = "RestartRequired"
	KindBadSession          Kind = "BadSession"
	KindMultideviceMismatch Kind = "MultideviceMismatch"
	KindNodeError           Kind = "NodeError"
)

// statusCodes mirrors the StatusCode column of the error taxonomy table.
var statusCodes = map[Kind]int{
	KindConnectionClosed:    428,
	KindConnectionLost:      408,
	KindConnectionReplaced:  440,
	KindTimeout:             408,
	KindLoggedOut:           401,
	KindRestartRequired:     515,
	KindBadSession:          500,
	KindMultideviceMismatch: 411,
	KindNodeError:           0,
}

// DisconnectError is the error type surfaced by the connection state
// machine and by query/waitForMessage callers.
type DisconnectError struct {
	Kind       Kind
	StatusCode int
	Data       *BinaryNode
	Err        error
}

func newError(kind Kind, cause error) *DisconnectError {
	return &DisconnectError{Kind: kind, StatusCode: statusCodes[kind], Err: cause}
}

// ErrConnectionClosed reports a cleanly closed socket.
func ErrConnectionClosed(cause error) *DisconnectError { return newError(KindConnectionClosed, cause) }

// ErrConnectionLost reports keep-alive staleness.
func ErrConnectionLost(cause error) *DisconnectError { return newError(KindConnectionLost, cause) }

// ErrConnectionReplaced reports another device taking over the session.
func ErrConnectionReplaced(cause error) *DisconnectError {
	return newError(KindConnectionReplaced, cause)
}

// ErrTimeout reports a per-request or QR-exhaustion timeout.
func ErrTimeout(cause error) *DisconnectError { return newError(KindTimeout, cause) }

// ErrLoggedOut reports a user logout or server-side credential revocation.
func ErrLoggedOut(cause error) *DisconnectError { return newError(KindLoggedOut, cause) }

// ErrRestartRequired reports the post-pair-success 515 reconnect signal.
func ErrRestartRequired(cause error) *DisconnectError { return newError(KindRestartRequired, cause) }

// ErrBadSession reports a Noise/AEAD failure.
func ErrBadSession(cause error) *DisconnectError { return newError(KindBadSession, cause) }

// ErrMultideviceMismatch reports a legacy client connecting to an MD account.
func ErrMultideviceMismatch(cause error) *DisconnectError {
	return newError(KindMultideviceMismatch, cause)
}

// ErrNodeError wraps an inbound node carrying an error child or non-2xx code.
func ErrNodeError(node *BinaryNode) *DisconnectError {
	code := 0
	if node != nil {
		if c, ok := node.Attrs["code"]; ok {
			fmt.Sscanf(c, "%d", &code)
		}
	}
	return &DisconnectError{Kind: KindNodeError, StatusCode: code, Data: node}
}

func (e *DisconnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	if e.Kind == KindNodeError && e.Data != nil {
		return fmt.Sprintf("%s (%d): node %q returned an error", e.Kind, e.StatusCode, e.Data.Tag)
	}
	return fmt.Sprintf("%s (%d)", e.Kind, e.StatusCode)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// assertNodeErrorFree inspects an iq response for an <error> child or a
// non-2xx "code" attribute and returns a NodeError if either is present.
func assertNodeErrorFree(node *BinaryNode) error {
	if node == nil {
		return nil
	}
	if node.Attrs["type"] == "error" {
		return ErrNodeError(node)
	}
	for _, child := range node.Children() {
		if child.Tag == "error" {
			return ErrNodeError(node)
		}
	}
	return nil
}
