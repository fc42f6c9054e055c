//go:build linux

// Package virtual provides a pair of locally linked serial ports backed by a
// pseudo-terminal. Bytes written to one end are read from the other, which
// makes it possible to exercise a serialbridge.Registry without hardware.
package virtual

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/Station-Manager/serialbridge"
)

// Pair is a linked pair of ports registered under two names.
type Pair struct {
	A, B string

	mu      sync.Mutex
	ends    map[string]*os.File
	claimed map[string]bool
}

// NewPair opens a pty and names its master a and its slave b. The slave is
// switched to raw mode so bytes pass through unmodified.
func NewPair(a, b string) (*Pair, error) {
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("virtual: need two distinct port names, got %q and %q", a, b)
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("virtual: opening pty: %w", err)
	}
	// Fd would switch the file to blocking mode and stop Close from
	// interrupting a pending Read, so go through the raw conn instead.
	rc, err := slave.SyscallConn()
	if err == nil {
		ctlErr := rc.Control(func(fd uintptr) { err = makeRaw(int(fd)) })
		if ctlErr != nil {
			err = ctlErr
		}
	}
	if err != nil {
		return nil, errors.Join(err, master.Close(), slave.Close())
	}

	return &Pair{
		A:       a,
		B:       b,
		ends:    map[string]*os.File{a: master, b: slave},
		claimed: make(map[string]bool, 2),
	}, nil
}

// Opener returns a serialbridge.OpenFunc that resolves the pair's names to
// its two ends and defers every other name to fallback. A nil fallback
// rejects unknown names. Each end can be opened once.
func (p *Pair) Opener(fallback serialbridge.OpenFunc) serialbridge.OpenFunc {
	return func(s serialbridge.LineSettings) (serialbridge.Port, error) {
		p.mu.Lock()
		f, ok := p.ends[s.Name]
		if ok {
			if p.claimed[s.Name] {
				p.mu.Unlock()
				return nil, fmt.Errorf("virtual: %s is already open", s.Name)
			}
			p.claimed[s.Name] = true
		}
		p.mu.Unlock()

		if ok {
			return f, nil
		}
		if fallback == nil {
			return nil, fmt.Errorf("virtual: unknown port %s", s.Name)
		}
		return fallback(s)
	}
}

// Close closes both ends. Ends already closed by a worker are ignored.
func (p *Pair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, f := range p.ends {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// makeRaw applies the same raw termios settings a serial driver would:
// no echo, no canonical mode, no output processing, 8 data bits.
func makeRaw(fd int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("virtual: get termios: %w", err)
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err = unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("virtual: set termios: %w", err)
	}
	return nil
}
