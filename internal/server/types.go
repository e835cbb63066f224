// Package server defines shared errors and helpers used by the client
// transport and hub.
package server

import (
	"errors"
	"net"
	"strings"
)

var (
	// ErrClientClosed is returned by Client.Send once the client is closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when the outbound queue overflows. The
	// client is closed as a consequence.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrHubClosed is returned by Hub.ServeClient after Shutdown has begun.
	ErrHubClosed = errors.New("hub is shutting down")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
