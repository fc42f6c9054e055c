package serialbridge

import "sync"

// Events is a double-buffered store of SerialData. Events published during
// one tick stay readable through the following tick, so every EventReader
// that reads once per tick sees each event exactly once.
type Events struct {
	mu sync.Mutex

	prev []SerialData
	cur  []SerialData

	// sequence numbers of prev[0] and cur[0]
	prevStart uint64
	curStart  uint64
	// count is the sequence number the next event will get.
	count uint64
}

// Update ages the buffers: the current tick's events become the previous
// tick's, and events older than that are dropped.
func (e *Events) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prev = e.cur
	e.prevStart = e.curStart
	e.cur = nil
	e.curStart = e.count
}

// Send publishes one event.
func (e *Events) Send(ev SerialData) {
	e.SendBatch([]SerialData{ev})
}

// SendBatch publishes evs in order. All of them become visible to readers
// at once.
func (e *Events) SendBatch(evs []SerialData) {
	if len(evs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cur = append(e.cur, evs...)
	e.count += uint64(len(evs))
}

// Len returns the number of events currently retained.
func (e *Events) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.prev) + len(e.cur)
}

// Reader returns a reader positioned at the oldest retained event.
func (e *Events) Reader() *EventReader {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &EventReader{events: e, next: e.prevStart}
}

// EventReader pulls the events published since its previous Read. A reader
// is not safe for concurrent use; give each consumer its own.
type EventReader struct {
	events *Events
	next   uint64
}

// Read returns the unread events in publication order. Events that aged out
// before being read are skipped.
func (r *EventReader) Read() []SerialData {
	e := r.events
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.next < e.prevStart {
		r.next = e.prevStart
	}

	var out []SerialData
	if r.next < e.curStart {
		out = append(out, e.prev[r.next-e.prevStart:]...)
		r.next = e.curStart
	}
	out = append(out, e.cur[r.next-e.curStart:]...)
	r.next = e.count
	return out
}
