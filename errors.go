package serialbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceOpen matches every *OpenError.
	ErrDeviceOpen = errors.New("serial: device open failed")
	// ErrSendQueueClosed is returned by Enqueue once the worker is torn down.
	ErrSendQueueClosed = errors.New("serial: send queue closed")
	// ErrTransport marks I/O failures surfaced through a Codec.
	ErrTransport = errors.New("serial: transport error")
)

// OpenError reports that a device could not be opened or configured.
// No worker exists for the port when it is returned.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serial: opening %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

func (e *OpenError) Is(target error) bool { return target == ErrDeviceOpen }
