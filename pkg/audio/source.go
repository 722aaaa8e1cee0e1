package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is wrapped in a [CaptureError] when Read is called on a
	// source that has not been started or has already been stopped.
	ErrNotRunning = errors.New("audio: source not running")

	// ErrEndOfStream is wrapped in a [CaptureError] when a finite source
	// (a file, a scripted mock) has no more frames to deliver.
	ErrEndOfStream = errors.New("audio: end of stream")
)

// CaptureError reports a failure of the capture device. Opening a device is
// fatal at startup; a failing Read ends the capture worker.
type CaptureError struct {
	// Op is the operation that failed ("open", "start", "read", "stop").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio: capture %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error { return e.Err }

// Source produces fixed-length PCM frames from a capture device.
//
// A Source is owned by exactly one goroutine (the capture worker) and need
// not be safe for concurrent use, with the exception that Stop may be called
// from another goroutine to unblock a pending Read.
//
// Stop followed by Start must discard anything the device buffered while it
// was stopped, so stale audio never leaks into a new session.
type Source interface {
	// Start begins continuous frame production. Calling Start on a running
	// source is a no-op.
	Start(ctx context.Context) error

	// Read blocks until the next frame is available. It fails with a
	// *CaptureError when the source is not running, was stopped concurrently,
	// or the device reported an error.
	Read(ctx context.Context) (Frame, error)

	// Stop halts production and releases the device. Stop is idempotent.
	Stop() error

	// Format returns the fixed frame shape this source produces.
	Format() Format
}
