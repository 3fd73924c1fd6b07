package driver

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrProtocol        = errors.New("driver: protocol violation")
	ErrUnexpectedEvent = errors.New("driver: unexpected event")
	ErrNotResumable    = errors.New("driver: session can not be resumed")
)

//TimeoutError fails a session whose request got no response in time.
type TimeoutError struct {
	Request string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("driver: no response to %s within %s", e.Request, e.Timeout)
}

func (e *TimeoutError) Retryable() bool {
	return true
}

//TransportError parks a session: the request may not have reached the server.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "driver: transport failed: " + e.Err.Error()
}

func (e *TransportError) Cause() error {
	return e.Err
}

func (e *TransportError) Retryable() bool {
	return true
}

func IsRetryable(err error) bool {
	retryable, ok := err.(interface{ Retryable() bool })
	return ok && retryable.Retryable()
}
