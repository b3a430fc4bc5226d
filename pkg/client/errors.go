package client

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapframe/pkg/wire"
)

var (
	// ErrTimeout settles a call whose timeout expired before a reply.
	ErrTimeout = errors.New("client: request timed out")
	// ErrTerminated settles calls pending when the client was terminated.
	ErrTerminated = errors.New("client: terminated")
)

// RemoteExecutionError is an ERROR reply from the worker.
type RemoteExecutionError struct {
	Method  wire.Method
	Message string
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}
