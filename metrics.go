package serialbridge

import (
	"time"

	"go.uber.org/atomic"
)

// Metrics tracks traffic and error counters for one Worker. All fields are
// safe for concurrent use.
type Metrics struct {
	// Write side
	Writes       atomic.Int64 // Write attempts made by the send loop
	WriteErrors  atomic.Int64 // Failed writes (logged and skipped)
	BytesWritten atomic.Int64
	LastWrite    atomic.Int64 // Unix nanoseconds of the last successful write

	// Read side
	Reads          atomic.Int64 // Read calls that returned data or an error
	ReadErrors     atomic.Int64 // Transient read errors
	BytesRead      atomic.Int64
	ChunksReceived atomic.Int64 // Chunks appended to the inbound record
	LastRead       atomic.Int64 // Unix nanoseconds of the last successful read

	// Queues
	EnqueueFailures atomic.Int64 // Enqueue calls rejected after teardown
	ChunksDrained   atomic.Int64 // Chunks handed to the foreground
	QueueDepth      atomic.Int64 // Outbound chunks waiting for the send loop

	OpenedAt atomic.Int64 // Unix nanoseconds when the transport was opened
	Running  atomic.Bool
}

// HealthStatus represents the overall health of a worker
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// MetricsSnapshot is a point-in-time copy of Metrics with derived values.
type MetricsSnapshot struct {
	Timestamp        time.Time
	Running          bool
	Uptime           time.Duration
	Writes           int64
	WriteErrors      int64
	BytesWritten     int64
	Reads            int64
	ReadErrors       int64
	BytesRead        int64
	ChunksReceived   int64
	ChunksDrained    int64
	EnqueueFailures  int64
	QueueDepth       int64
	WriteSuccessRate float64
	ReadSuccessRate  float64
	HealthStatus     HealthStatus
}

func (m *Metrics) recordWrite(n int, err error) {
	m.Writes.Inc()
	if err != nil {
		m.WriteErrors.Inc()
		return
	}
	m.BytesWritten.Add(int64(n))
	m.LastWrite.Store(time.Now().UnixNano())
}

func (m *Metrics) recordRead(n int, chunks int, err error) {
	if n == 0 && err == nil {
		// read timeout, nothing to account for
		return
	}
	m.Reads.Inc()
	if err != nil {
		m.ReadErrors.Inc()
	}
	if n > 0 {
		m.BytesRead.Add(int64(n))
		m.LastRead.Store(time.Now().UnixNano())
	}
	m.ChunksReceived.Add(int64(chunks))
}

// Snapshot copies the counters and derives rates and a health status.
func (m *Metrics) Snapshot() MetricsSnapshot {
	now := time.Now()
	s := MetricsSnapshot{
		Timestamp:       now,
		Running:         m.Running.Load(),
		Writes:          m.Writes.Load(),
		WriteErrors:     m.WriteErrors.Load(),
		BytesWritten:    m.BytesWritten.Load(),
		Reads:           m.Reads.Load(),
		ReadErrors:      m.ReadErrors.Load(),
		BytesRead:       m.BytesRead.Load(),
		ChunksReceived:  m.ChunksReceived.Load(),
		ChunksDrained:   m.ChunksDrained.Load(),
		EnqueueFailures: m.EnqueueFailures.Load(),
		QueueDepth:      m.QueueDepth.Load(),
	}
	if opened := m.OpenedAt.Load(); opened > 0 && s.Running {
		s.Uptime = now.Sub(time.Unix(0, opened))
	}
	s.WriteSuccessRate = successRate(s.Writes, s.WriteErrors)
	s.ReadSuccessRate = successRate(s.Reads, s.ReadErrors)
	s.HealthStatus = assessHealth(s)
	return s
}

func successRate(ops, failures int64) float64 {
	if ops == 0 {
		return 100.0
	}
	return float64(ops-failures) / float64(ops) * 100
}

func assessHealth(s MetricsSnapshot) HealthStatus {
	if !s.Running {
		return HealthStatusDown
	}
	if s.WriteSuccessRate < 90.0 || s.ReadSuccessRate < 90.0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
