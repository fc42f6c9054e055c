package serialbridge

import (
	"sync"

	"go.uber.org/atomic"
)

// ReadBufferSize is the size of the buffer each receive loop reads into.
const ReadBufferSize = 4096

// readBuffers is shared by every receive loop in the process.
var readBuffers = NewBufferPool(ReadBufferSize)

// BufferPool hands out fixed-size read buffers. Buffers are pooled by
// pointer so Put does not allocate.
type BufferPool struct {
	size int
	pool sync.Pool

	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		bp.creates.Inc()
		buf := make([]byte, size)
		return &buf
	}
	return bp
}

// Get returns a buffer of exactly the pool's size.
func (bp *BufferPool) Get() *[]byte {
	bp.gets.Inc()
	return bp.pool.Get().(*[]byte)
}

// Put zeroes buf and makes it available again. Buffers of another size,
// including ones resliced by the caller, are dropped.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil || len(*buf) != bp.size {
		return
	}
	bp.puts.Inc()
	clear(*buf)
	bp.pool.Put(buf)
}

// PoolStats counts BufferPool activity.
type PoolStats struct {
	Size    int
	Gets    int64
	Puts    int64
	Creates int64 // buffers allocated because the pool was empty
}

func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// HitRatio is the share of Gets served without allocating, from 0 to 1.
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0
	}
	return 1 - float64(ps.Creates)/float64(ps.Gets)
}

// ReadBufferStats reports usage of the pool behind every receive loop.
func ReadBufferStats() PoolStats {
	return readBuffers.Stats()
}
