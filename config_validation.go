package serialbridge

import (
	"fmt"
)

// ValidateSettings validates serial line settings before a port is opened.
func ValidateSettings(s LineSettings) error {
	// Validate port name
	if s.Name == "" {
		return fmt.Errorf("port name cannot be empty")
	}

	// Non-standard rates are allowed, virtual and USB ports accept them.
	if s.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d, must be positive", s.BaudRate)
	}

	if !s.DataBits.Valid() {
		return fmt.Errorf("data bits must be 5-8, got: %d", s.DataBits)
	}

	if !s.Parity.Valid() {
		return fmt.Errorf("invalid parity value: %d", s.Parity)
	}

	if !s.StopBits.Valid() {
		return fmt.Errorf("stop bits must be 1 or 2, got: %s", s.StopBits)
	}

	if !s.FlowControl.Valid() {
		return fmt.Errorf("invalid flow control value: %d", s.FlowControl)
	}

	if s.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative: %v", s.ReadTimeout)
	}

	return nil
}

// IsStandardBaudRate reports whether rate is one of StandardBaudRates.
func IsStandardBaudRate(rate int) bool {
	return BaudRate(rate).Standard()
}
