package serialbridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"gopkg.in/tomb.v2"
)

// readErrorBackoff paces the receive loop after a failed read so a device
// reporting the same error repeatedly does not spin a CPU.
const readErrorBackoff = 20 * time.Millisecond

// Worker owns one open transport and pumps bytes in both directions on two
// goroutines: a send loop fed by an unbounded outbound queue, and a receive
// loop appending decoded chunks to an inbound record.
//
// Enqueue and DrainReceived never block on I/O and are safe to call from
// any goroutine.
type Worker struct {
	settings LineSettings
	port     Port
	framed   *Framed
	logger   zerolog.Logger

	out *outboundQueue

	// inMu guards inbound. It is never held across a Read or Write.
	inMu    sync.Mutex
	inbound [][]byte

	metrics Metrics
	closed  atomic.Bool
	tomb    tomb.Tomb
}

// NewWorker opens the transport described by settings and starts the send
// and receive loops. It blocks only while the transport is opened. A nil
// open uses OpenSerial and a nil logger uses the global zerolog logger.
//
// On failure the returned error is an *OpenError and nothing is left running.
func NewWorker(settings LineSettings, open OpenFunc, logger *zerolog.Logger) (*Worker, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, &OpenError{Port: settings.Name, Err: err}
	}
	if open == nil {
		open = OpenSerial
	}
	if logger == nil {
		logger = &log.Logger
	}

	port, err := open(settings)
	if err != nil {
		return nil, &OpenError{Port: settings.Name, Err: err}
	}

	w := &Worker{
		settings: settings,
		port:     port,
		framed:   NewFramed(port, RawCodec{}),
		logger:   logger.With().Str("port", settings.Name).Logger(),
	}
	w.out = newOutboundQueue(&w.metrics.QueueDepth)
	w.metrics.OpenedAt.Store(time.Now().UnixNano())
	w.metrics.Running.Store(true)

	w.tomb.Go(w.sendLoop)
	w.tomb.Go(w.receiveLoop)

	w.logger.Info().
		Int("baud_rate", settings.BaudRate).
		Int("data_bits", settings.DataBits.Int()).
		Stringer("parity", settings.Parity).
		Stringer("stop_bits", settings.StopBits).
		Msg("serial port opened")
	if !BaudRate(settings.BaudRate).Standard() {
		w.logger.Debug().Int("baud_rate", settings.BaudRate).Msg("non-standard baud rate")
	}

	return w, nil
}

// Name returns the port identifier.
func (w *Worker) Name() string { return w.settings.Name }

// Settings returns a copy of the settings the worker was opened with.
func (w *Worker) Settings() LineSettings { return w.settings }

// Metrics returns the live counters for this worker.
func (w *Worker) Metrics() *Metrics { return &w.metrics }

// Enqueue queues b for the send loop without blocking. The bytes are copied.
// Once the worker is closed it returns ErrSendQueueClosed and b is dropped.
func (w *Worker) Enqueue(b []byte) error {
	if err := w.out.push(clone(b)); err != nil {
		w.metrics.EnqueueFailures.Inc()
		return err
	}
	return nil
}

// DrainReceived returns every chunk received since the previous call, in
// arrival order, and leaves the inbound record empty. It returns nil when
// nothing is pending.
func (w *Worker) DrainReceived() [][]byte {
	w.inMu.Lock()
	chunks := w.inbound
	w.inbound = nil
	w.inMu.Unlock()

	w.metrics.ChunksDrained.Add(int64(len(chunks)))
	return chunks
}

// Close stops both loops and closes the transport. Queued outbound bytes are
// discarded. Close is safe to call more than once.
func (w *Worker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.metrics.Running.Store(false)

	w.out.close()
	w.tomb.Kill(nil)

	// Closing the port unblocks a Read in progress.
	err := w.port.Close()
	if err != nil {
		w.logger.Warn().Err(err).Msg("closing serial port")
	} else {
		w.logger.Info().Msg("serial port closed")
	}
	return err
}

// Wait blocks until both loops have returned. It returns the read error
// when the device hung up and nil otherwise.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

// Dead is closed once both loops have returned.
func (w *Worker) Dead() <-chan struct{} {
	return w.tomb.Dead()
}

func (w *Worker) sendLoop() error {
	for {
		chunk, ok, closed := w.out.pop()
		if closed {
			return nil
		}
		if !ok {
			select {
			case <-w.out.ready:
				continue
			case <-w.tomb.Dying():
				return nil
			}
		}

		n, err := w.framed.WriteChunk(chunk)
		w.metrics.recordWrite(n, err)
		if err != nil {
			if w.closed.Load() {
				return nil
			}
			// One bad write does not abandon the connection.
			w.logger.Error().Err(err).Int("bytes", len(chunk)).Msg("serial write failed")
		}
	}
}

func (w *Worker) receiveLoop() error {
	bufp := readBuffers.Get()
	defer readBuffers.Put(bufp)
	buf := *bufp

	for {
		select {
		case <-w.tomb.Dying():
			return nil
		default:
		}

		chunks, err := w.framed.ReadChunks(buf)
		n := 0
		for _, c := range chunks {
			n += len(c)
		}
		w.metrics.recordRead(n, len(chunks), err)
		if len(chunks) > 0 {
			w.appendReceived(chunks)
		}
		if err == nil {
			continue
		}

		if w.closed.Load() || isPortClosed(err) {
			w.logger.Debug().Err(err).Msg("receive loop finished")
			return nil
		}
		if isHangup(err) {
			// The device is gone, so nothing queued can be delivered either.
			w.logger.Warn().Err(err).Msg("serial device hung up")
			w.metrics.Running.Store(false)
			w.out.close()
			return err
		}

		w.logger.Warn().Err(err).Msg("serial read failed")
		select {
		case <-w.tomb.Dying():
			return nil
		case <-time.After(readErrorBackoff):
		}
	}
}

func (w *Worker) appendReceived(chunks [][]byte) {
	w.inMu.Lock()
	w.inbound = append(w.inbound, chunks...)
	w.inMu.Unlock()
}
