package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for channel operations.
var (
	ErrNotConnected      = errors.New("channel not connected")
	ErrConnectionTimeout = errors.New("pairing attempt timed out")
	ErrConnectionCleanup = errors.New("connection attempt resolved without a result")
)

// CloseReason classifies an unexpected channel closure.
type CloseReason string

const (
	ClosePeer     CloseReason = "peer-closed"
	CloseCancel   CloseReason = "cancelled"
	CloseProtocol CloseReason = "protocol-error"
)

// CloseError reports an unexpected disconnect with its sub-reason.
type CloseError struct {
	Reason CloseReason
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("channel closed (%s): %v", e.Reason, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
