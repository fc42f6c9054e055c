package serialbridge

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockPort struct {
	readCh chan []byte
	done   chan struct{}
	once   sync.Once

	// echo feeds every successful write back into readCh.
	echo bool

	writeMu sync.Mutex
	writes  [][]byte

	mu sync.Mutex
	// readErrs are returned, one per Read, before any data from readCh.
	readErrs []error
	// failWrites makes the next N writes fail.
	failWrites int
}

var errMockWrite = errors.New("mock write failure")

func newMockPort() *mockPort {
	return &mockPort{readCh: make(chan []byte, 64), done: make(chan struct{})}
}

func newEchoPort() *mockPort {
	m := newMockPort()
	m.echo = true
	return m
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		m.mu.Unlock()
		return 0, err
	}
	m.mu.Unlock()

	select {
	case b := <-m.readCh:
		return copy(p, b), nil
	case <-m.done:
		return 0, io.EOF
	}
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.failWrites > 0 {
		m.failWrites--
		m.mu.Unlock()
		return 0, errMockWrite
	}
	m.mu.Unlock()

	cp := make([]byte, len(p))
	copy(cp, p)

	m.writeMu.Lock()
	m.writes = append(m.writes, cp)
	m.writeMu.Unlock()

	if m.echo {
		select {
		case m.readCh <- cp:
		case <-m.done:
			return 0, io.ErrClosedPipe
		}
	}
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockPort) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *mockPort) written() [][]byte {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// openerFor returns an OpenFunc handing out ports by name.
func openerFor(ports map[string]Port) OpenFunc {
	var mu sync.Mutex
	return func(s LineSettings) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		p, ok := ports[s.Name]
		if !ok {
			return nil, errors.New("no such device")
		}
		return p, nil
	}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestWorker(t *testing.T, port Port) *Worker {
	t.Helper()
	w, err := NewWorker(DefaultLineSettings("mock", 9600), openerFor(map[string]Port{"mock": port}), nopLogger())
	if err != nil {
		t.Fatalf("NewWorker error: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestWorkerEchoPreservesOrder(t *testing.T) {
	mp := newEchoPort()
	w := newTestWorker(t, mp)

	for _, s := range []string{"A", "B", "C"} {
		if err := w.Enqueue([]byte(s)); err != nil {
			t.Fatalf("Enqueue(%q) error: %v", s, err)
		}
	}

	var got []string
	waitFor(t, time.Second, func() bool {
		for _, c := range w.DrainReceived() {
			got = append(got, string(c))
		}
		return len(got) >= 3
	})

	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestWorkerDrainIsIdempotent(t *testing.T) {
	mp := newMockPort()
	w := newTestWorker(t, mp)

	mp.readCh <- []byte("hello")
	waitFor(t, time.Second, func() bool { return w.Metrics().ChunksReceived.Load() == 1 })

	first := w.DrainReceived()
	if len(first) != 1 || string(first[0]) != "hello" {
		t.Fatalf("expected one chunk %q, got %q", "hello", first)
	}
	if second := w.DrainReceived(); len(second) != 0 {
		t.Fatalf("expected empty second drain, got %q", second)
	}
}

func TestWorkerDrainWithNothingPending(t *testing.T) {
	w := newTestWorker(t, newMockPort())
	if got := w.DrainReceived(); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}

func TestWorkerWriteFailureDoesNotStopSendLoop(t *testing.T) {
	mp := newMockPort()
	mp.failWrites = 1
	w := newTestWorker(t, mp)

	_ = w.Enqueue([]byte("bad"))
	_ = w.Enqueue([]byte("good"))

	waitFor(t, time.Second, func() bool { return len(mp.written()) == 1 })
	if got := string(mp.written()[0]); got != "good" {
		t.Fatalf("expected %q to be written, got %q", "good", got)
	}
	if n := w.Metrics().WriteErrors.Load(); n != 1 {
		t.Fatalf("expected 1 write error, got %d", n)
	}
}

func TestWorkerTransientReadErrorDoesNotStopReceiveLoop(t *testing.T) {
	mp := newMockPort()
	mp.readErrs = []error{errors.New("framing error")}
	w := newTestWorker(t, mp)

	mp.readCh <- []byte("after")
	waitFor(t, time.Second, func() bool { return w.Metrics().ChunksReceived.Load() == 1 })

	got := w.DrainReceived()
	if len(got) != 1 || string(got[0]) != "after" {
		t.Fatalf("expected chunk %q, got %q", "after", got)
	}
	if n := w.Metrics().ReadErrors.Load(); n != 1 {
		t.Fatalf("expected 1 read error, got %d", n)
	}
}

func TestWorkerEnqueueCopiesInput(t *testing.T) {
	mp := newMockPort()
	w := newTestWorker(t, mp)

	buf := []byte("abc")
	_ = w.Enqueue(buf)
	buf[0] = 'X'

	waitFor(t, time.Second, func() bool { return len(mp.written()) == 1 })
	if got := string(mp.written()[0]); got != "abc" {
		t.Fatalf("expected %q, got %q", "abc", got)
	}
}

func TestWorkerCloseStopsLoops(t *testing.T) {
	mp := newMockPort()
	w := newTestWorker(t, mp)

	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !mp.isClosed() {
		t.Fatalf("expected transport to be closed")
	}

	select {
	case <-w.Dead():
	case <-time.After(time.Second):
		t.Fatalf("loops did not exit after Close")
	}
	if err := w.Wait(); err != nil {
		t.Fatalf("Wait error: %v", err)
	}

	// second Close is a no-op
	if err := w.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestWorkerEnqueueAfterClose(t *testing.T) {
	w := newTestWorker(t, newMockPort())
	_ = w.Close()

	err := w.Enqueue([]byte("late"))
	if !errors.Is(err, ErrSendQueueClosed) {
		t.Fatalf("expected ErrSendQueueClosed, got %v", err)
	}
	if n := w.Metrics().EnqueueFailures.Load(); n != 1 {
		t.Fatalf("expected 1 enqueue failure, got %d", n)
	}
}

func TestWorkerStreamEndLeavesSendLoopRunning(t *testing.T) {
	mp := newMockPort()
	mp.readErrs = []error{io.EOF}
	w := newTestWorker(t, mp)

	_ = w.Enqueue([]byte("still writing"))
	waitFor(t, time.Second, func() bool { return len(mp.written()) == 1 })

	select {
	case <-w.Dead():
		t.Fatalf("worker died when only the receive side ended")
	default:
	}
}

func TestWorkerHangupStopsWorker(t *testing.T) {
	mp := newMockPort()
	hangup := &os.PathError{Op: "read", Path: "/dev/ptmx", Err: syscall.EIO}
	mp.readErrs = []error{hangup}
	w := newTestWorker(t, mp)

	select {
	case <-w.Dead():
	case <-time.After(time.Second):
		t.Fatalf("worker still running after the device hung up")
	}
	if err := w.Wait(); !errors.Is(err, syscall.EIO) {
		t.Fatalf("expected Wait to report EIO, got %v", err)
	}
	if err := w.Enqueue([]byte("late")); !errors.Is(err, ErrSendQueueClosed) {
		t.Fatalf("expected ErrSendQueueClosed after hangup, got %v", err)
	}
	if got := w.Metrics().Snapshot().HealthStatus; got != HealthStatusDown {
		t.Fatalf("expected %s after hangup, got %s", HealthStatusDown, got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after hangup: %v", err)
	}
}

func TestWorkerQueueDepthSettlesAfterClose(t *testing.T) {
	mp := newMockPort()
	w := newTestWorker(t, mp)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = w.Enqueue([]byte("x"))
			}
		}()
	}
	time.Sleep(time.Millisecond)
	_ = w.Close()
	wg.Wait()
	_ = w.Wait()

	if depth := w.Metrics().QueueDepth.Load(); depth != 0 {
		t.Fatalf("expected queue depth 0 on a closed worker, got %d", depth)
	}
}

func TestNewWorkerOpenFailure(t *testing.T) {
	errNoDevice := errors.New("no such device")
	open := func(LineSettings) (Port, error) { return nil, errNoDevice }

	w, err := NewWorker(DefaultLineSettings("/dev/ttyUSB9", 9600), open, nopLogger())
	if w != nil {
		t.Fatalf("expected no worker on failure")
	}
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
	if !errors.Is(err, errNoDevice) {
		t.Fatalf("expected underlying error to be preserved, got %v", err)
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Port != "/dev/ttyUSB9" {
		t.Fatalf("expected *OpenError for /dev/ttyUSB9, got %#v", err)
	}
}

func TestNewWorkerInvalidSettingsDoesNotOpen(t *testing.T) {
	called := false
	open := func(LineSettings) (Port, error) {
		called = true
		return newMockPort(), nil
	}

	s := DefaultLineSettings("mock", 9600)
	s.DataBits = 9
	_, err := NewWorker(s, open, nopLogger())
	if !errors.Is(err, ErrDeviceOpen) {
		t.Fatalf("expected ErrDeviceOpen, got %v", err)
	}
	if called {
		t.Fatalf("transport must not be opened with invalid settings")
	}
}

func TestWorkerSettingsAreCopied(t *testing.T) {
	s := DefaultLineSettings("mock", 9600)
	w, err := NewWorker(s, openerFor(map[string]Port{"mock": newMockPort()}), nopLogger())
	if err != nil {
		t.Fatalf("NewWorker error: %v", err)
	}
	defer w.Close()

	s.BaudRate = 115200
	if got := w.Settings().BaudRate; got != 9600 {
		t.Fatalf("expected worker to keep baud 9600, got %d", got)
	}
	if w.Name() != "mock" {
		t.Fatalf("expected name mock, got %q", w.Name())
	}
}
