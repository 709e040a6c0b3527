package server

import (
	"fmt"
	"strings"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

var errInvalidEnvelope = fmt.Errorf(`%w: expected {"event": ..., "data": ...}`, coordinator.ErrInvalidRequest)

// isExpectedCloseError reports errors that only mean the peer or another
// goroutine already closed the connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
