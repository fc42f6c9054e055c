package serialbridge

import (
	"fmt"
	"strings"
)

// FlowControl is recorded on the line settings and handed to the transport.
// go.bug.st/serial has no flow control knob, so OpenSerial only reports it.
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlSoftware
	FlowControlHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "none"
	case FlowControlSoftware:
		return "software"
	case FlowControlHardware:
		return "hardware"
	}
	return fmt.Sprintf("FlowControl(%d)", int(f))
}

func (f FlowControl) Valid() bool {
	return f >= FlowControlNone && f <= FlowControlHardware
}

func ParseFlowControl(s string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FlowControlNone, nil
	case "software", "xonxoff":
		return FlowControlSoftware, nil
	case "hardware", "rtscts":
		return FlowControlHardware, nil
	}
	return FlowControlNone, fmt.Errorf("unsupported flow control %q (use none, software, hardware)", s)
}
