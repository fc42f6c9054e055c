package serialbridge

import (
	"time"

	gobug "go.bug.st/serial"
)

// LineSettings describes how a single device is opened. A Worker keeps its
// own copy, so changing a LineSettings value after Open has no effect.
type LineSettings struct {
	// Name is the device path or identifier, e.g. /dev/ttyUSB0 or COM3.
	// It is also the registry key.
	Name string

	BaudRate    int
	DataBits    DataBits
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl

	// ReadTimeout is the transport read timeout. Zero means block until data
	// arrives or the port is closed.
	ReadTimeout time.Duration
}

// DefaultLineSettings returns 8N1 settings without flow control or timeout.
func DefaultLineSettings(name string, baudRate int) LineSettings {
	return LineSettings{
		Name:        name,
		BaudRate:    baudRate,
		DataBits:    DataBits8,
		Parity:      ParityNone,
		StopBits:    StopBits1,
		FlowControl: FlowControlNone,
	}
}

// Mode converts the settings into the go.bug.st/serial representation.
func (s LineSettings) Mode() *gobug.Mode {
	return &gobug.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits.Int(),
		Parity:   s.Parity.Get(),
		StopBits: s.StopBits.Get(),
	}
}
