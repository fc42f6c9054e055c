package serialbridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/rs/zerolog/log"
	gobug "go.bug.st/serial"
)

// Port abstracts the subset of go.bug.st/serial.Port used by this package.
// Any io.ReadWriteCloser with blocking reads qualifies, which is how tests
// and the virtual package plug in.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenFunc opens and configures a transport for the given settings.
type OpenFunc func(LineSettings) (Port, error)

// allow tests to override external dependencies
var (
	openPort     = func(name string, mode *gobug.Mode) (gobug.Port, error) { return gobug.Open(name, mode) }
	getPortsList = gobug.GetPortsList
)

// OpenSerial is the default OpenFunc, backed by go.bug.st/serial.
func OpenSerial(s LineSettings) (Port, error) {
	p, err := openPort(s.Name, s.Mode())
	if err != nil {
		return nil, err
	}

	if s.ReadTimeout > 0 {
		if err = p.SetReadTimeout(s.ReadTimeout); err != nil {
			return nil, errors.Join(fmt.Errorf("setting read timeout: %w", err), p.Close())
		}
	}

	switch s.FlowControl {
	case FlowControlHardware:
		// The driver has no RTS/CTS mode; asserting RTS lets the peer send.
		if err = p.SetRTS(true); err != nil {
			return nil, errors.Join(fmt.Errorf("asserting RTS: %w", err), p.Close())
		}
	case FlowControlSoftware:
		log.Debug().
			Str("port", s.Name).
			Stringer("flow_control", s.FlowControl).
			Msg("flow control is not negotiated by the driver")
	}

	return p, nil
}

// isPortClosed reports whether a read error means the stream has ended
// rather than a single failed attempt.
func isPortClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var pe *gobug.PortError
	if errors.As(err, &pe) {
		return pe.Code() == gobug.PortClosed
	}
	return false
}

// isHangup reports whether the device went away underneath an open port,
// such as a USB adapter being unplugged or the far end of a pty closing.
func isHangup(err error) bool {
	return errors.Is(err, syscall.EIO)
}
