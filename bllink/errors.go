package bllink

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoAckTimeout     = errors.New("no ack received")
	ErrResponseTimeout  = errors.New("no matching response received")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// NoAckError is returned by an attempt during which the radio never reported
// the request as acknowledged.
type NoAckError struct {
	Timeout time.Duration
}

func (e *NoAckError) Error() string {
	return fmt.Sprintf("timeout: no ack received for initial packet within %v", e.Timeout)
}

func (e *NoAckError) Is(target error) bool { return target == ErrNoAckTimeout }

// ResponseTimeoutError carries the bytes that were expected at the start of the
// response and what was last received instead.
type ResponseTimeoutError struct {
	Timeout  time.Duration
	Expected []byte
	Actual   []byte
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("timeout: no valid response received within %v, expected first %d bytes to match %s, got %s",
		e.Timeout, len(e.Expected), hexBytes(e.Expected), hexBytes(e.Actual))
}

func hexBytes(b []byte) string {
	if len(b) == 0 {
		return "<none>"
	}
	return fmt.Sprintf("% x", b)
}

func (e *ResponseTimeoutError) Is(target error) bool { return target == ErrResponseTimeout }

// RetriesExhaustedError wraps the error of the last failed attempt.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }
