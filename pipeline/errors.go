package pipeline

import (
	"fmt"
)

// ConnectError means the stream endpoint could not be opened. Retryable.
type ConnectError struct {
	URL    string
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("connect %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// DecodeError means the bytes between an SOI and EOI marker were not a valid
// image. The range has already been discarded; the caller skips and retries.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte candidate: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StreamEndError means the remote end closed the stream or the read failed.
// The caller reconnects.
type StreamEndError struct {
	Err error
}

func (e *StreamEndError) Error() string {
	return fmt.Sprintf("stream ended: %v", e.Err)
}

func (e *StreamEndError) Unwrap() error {
	return e.Err
}
