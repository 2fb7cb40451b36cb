package session

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeRejected is returned when the backend refuses the
	// handshake. It is fatal for that attempt and never retried internally.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrTransportNotReady fails outbound calls made while the stream is down
	ErrTransportNotReady = errors.New("transport not ready")
	// ErrConnectionLost fails calls still pending when the stream closes
	ErrConnectionLost = errors.New("connection lost")
	// ErrClosed is returned once the client has been shut down
	ErrClosed = errors.New("client closed")
)

// HandshakeError carries the HTTP status of a rejected handshake
type HandshakeError struct {
	StatusCode int
	Body       string
}

func (e *HandshakeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("handshake rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("handshake rejected: status %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrHandshakeRejected) match
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

// CloseError reports that the duplex stream was closed with a close code
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("stream closed: code %d %s", e.Code, e.Reason)
}
