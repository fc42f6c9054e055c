package serialbridge

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SerialData is one inbound chunk tagged with the port it arrived on.
type SerialData struct {
	Port string
	Data []byte
}

// Registry owns one Worker per port identifier. The zero value is ready to
// use and opens devices with OpenSerial.
type Registry struct {
	// Opener opens transports. Nil means OpenSerial.
	Opener OpenFunc
	// Logger is used for registry and worker logging. Nil means the global
	// zerolog logger.
	Logger *zerolog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// Open opens name with DefaultLineSettings and the given baud rate.
func (r *Registry) Open(name string, baudRate int) error {
	return r.OpenWithSettings(DefaultLineSettings(name, baudRate))
}

// OpenWithSettings opens a worker for settings.Name. Settings are validated
// before anything else happens, so a rejected reopen leaves the current
// worker untouched. Otherwise an existing worker for the same name is closed
// before the device is opened again, since most drivers grant exclusive
// access; if that open fails no entry remains for the name. Errors are
// returned unchanged.
//
// The device is opened without holding the registry lock, so Send and
// CollectEvents keep running while an open blocks.
func (r *Registry) OpenWithSettings(settings LineSettings) error {
	if err := ValidateSettings(settings); err != nil {
		return &OpenError{Port: settings.Name, Err: err}
	}

	r.mu.Lock()
	old, ok := r.workers[settings.Name]
	delete(r.workers, settings.Name)
	r.mu.Unlock()
	if ok {
		_ = old.Close()
		r.logger().Debug().Str("port", settings.Name).Msg("replacing serial port")
	}

	w, err := NewWorker(settings, r.Opener, r.Logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.workers == nil {
		r.workers = make(map[string]*Worker)
	}
	// A concurrent open of the same name may have finished first; the
	// later one wins.
	prev, raced := r.workers[settings.Name]
	r.workers[settings.Name] = w
	r.mu.Unlock()
	if raced {
		_ = prev.Close()
	}
	return nil
}

// Send queues b for the named port. Sending to a port that was never opened
// is a silent no-op; use Has for strict checks. Enqueue failures are logged
// and the bytes are dropped.
func (r *Registry) Send(name string, b []byte) {
	r.mu.Lock()
	w, ok := r.workers[name]
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := w.Enqueue(b); err != nil {
		r.logger().Error().Err(err).Str("port", name).Msg("send data to serial port")
	}
}

// CollectEvents drains every worker and returns the chunks as one slice.
// Ports are visited in sorted order; chunks of one port keep arrival order.
func (r *Registry) CollectEvents() []SerialData {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []SerialData
	for _, name := range r.sortedNamesLocked() {
		for _, chunk := range r.workers[name].DrainReceived() {
			events = append(events, SerialData{Port: name, Data: chunk})
		}
	}
	return events
}

// Has reports whether a worker is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[name]
	return ok
}

// Worker returns the worker registered for name, if any.
func (r *Registry) Worker(name string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	return w, ok
}

// Ports returns the registered identifiers in sorted order.
func (r *Registry) Ports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedNamesLocked()
}

// Metrics returns a snapshot per registered port.
func (r *Registry) Metrics() map[string]MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]MetricsSnapshot, len(r.workers))
	for name, w := range r.workers {
		out[name] = w.Metrics().Snapshot()
	}
	return out
}

// Close closes and removes the worker for name. Closing an unknown port
// returns nil.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	w, ok := r.workers[name]
	delete(r.workers, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Close()
}

// CloseAll closes every worker and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	workers := r.workers
	r.workers = nil
	r.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return &log.Logger
}
