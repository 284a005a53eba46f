// Package mailbox implements the bounded, drop-policy FIFOs that marshal
// work between the tick thread and every other thread in the runtime:
// inbound transport frames, lifecycle events, persistence completions, and
// persistence write requests. Every mailbox shares the same shape: enqueue
// from any thread, drain only from the tick thread, oversized single items
// rejected outright, and metrics for readers. All of them drop the oldest
// item on overflow except PersistenceWriteMailbox, which rejects the new
// request instead.
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Item is anything a Mailbox can hold: it must be able to report its own
// size so the byte budget can be enforced.
type Item interface {
	ByteSize() int
}

// Metrics is a point-in-time snapshot of a mailbox's counters.
type Metrics struct {
	CurrentCount int
	CurrentBytes int64
	PeakCount    int64
	PeakBytes    int64
	Enqueued     int64
	Applied      int64
	Dropped      int64
	DroppedBytes int64
}

// TickThreadAsserter is invoked by Drain before touching the queue. Inject
// the tick clock's assertion so an off-thread Drain call panics instead of
// silently corrupting FIFO order.
type TickThreadAsserter func()

// Mailbox is a bounded FIFO with drop-oldest overflow policy.
type Mailbox[T Item] struct {
	maxCount int
	maxBytes int64
	onDrop   func(T)
	assert   TickThreadAsserter

	mu    sync.Mutex
	items []T
	bytes int64

	enqueued     atomic.Int64
	applied      atomic.Int64
	dropped      atomic.Int64
	droppedBytes atomic.Int64
	peakCount    atomic.Int64
	peakBytes    atomic.Int64
}

// Option customises mailbox construction.
type Option[T Item] func(*Mailbox[T])

// WithDropHandler registers a callback invoked for every item the mailbox
// drops or clears, so pooled payload leases can be released.
func WithDropHandler[T Item](fn func(T)) Option[T] {
	return func(m *Mailbox[T]) { m.onDrop = fn }
}

// WithTickThreadAssertion wires the tick-thread debug assertion into Drain.
func WithTickThreadAssertion[T Item](assert TickThreadAsserter) Option[T] {
	return func(m *Mailbox[T]) { m.assert = assert }
}

// New constructs a mailbox bounded by maxCount items and maxBytes total
// payload size.
func New[T Item](maxCount int, maxBytes int64, opts ...Option[T]) *Mailbox[T] {
	if maxCount <= 0 {
		maxCount = 1
	}
	if maxBytes <= 0 {
		maxBytes = 1
	}
	m := &Mailbox[T]{maxCount: maxCount, maxBytes: maxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// TryEnqueue adds item to the tail of the queue from any thread. A single
// item larger than the byte budget is rejected outright. Otherwise the
// oldest items are evicted (drop-oldest) until there is room.
func (m *Mailbox[T]) TryEnqueue(item T) bool {
	if m == nil {
		return false
	}
	size := int64(item.ByteSize())
	if size > m.maxBytes {
		m.countDrop(item, size)
		return false
	}

	m.mu.Lock()
	for len(m.items) >= m.maxCount || m.bytes+size > m.maxBytes {
		if len(m.items) == 0 {
			break
		}
		oldest := m.items[0]
		m.items = m.items[1:]
		m.bytes -= int64(oldest.ByteSize())
		m.mu.Unlock()
		m.countDrop(oldest, int64(oldest.ByteSize()))
		m.mu.Lock()
	}
	m.items = append(m.items, item)
	m.bytes += size
	count := int64(len(m.items))
	bytes := m.bytes
	m.mu.Unlock()

	m.enqueued.Add(1)
	casMaxInt64(&m.peakCount, count)
	casMaxInt64(&m.peakBytes, bytes)
	return true
}

func (m *Mailbox[T]) countDrop(item T, size int64) {
	m.dropped.Add(1)
	m.droppedBytes.Add(size)
	if m.onDrop != nil {
		m.onDrop(item)
	}
}

// Drain applies every queued item in FIFO order and empties the queue.
// Tick-thread only: it asserts via the injected TickThreadAsserter (if any)
// before touching state.
func (m *Mailbox[T]) Drain(apply func(T)) int {
	if m == nil || apply == nil {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.bytes = 0
	m.mu.Unlock()

	for _, item := range items {
		apply(item)
		m.applied.Add(1)
	}
	return len(items)
}

// DrainN applies up to maxItems queued items in FIFO order, leaving any
// remainder queued for a later drain. Tick-thread only.
func (m *Mailbox[T]) DrainN(maxItems int, apply func(T)) int {
	if m == nil || apply == nil || maxItems <= 0 {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}
	m.mu.Lock()
	n := maxItems
	if n > len(m.items) {
		n = len(m.items)
	}
	taken := make([]T, n)
	copy(taken, m.items[:n])
	var removedBytes int64
	for _, item := range taken {
		removedBytes += int64(item.ByteSize())
	}
	remainder := make([]T, len(m.items)-n)
	copy(remainder, m.items[n:])
	m.items = remainder
	m.bytes -= removedBytes
	m.mu.Unlock()

	for _, item := range taken {
		apply(item)
		m.applied.Add(1)
	}
	return n
}

// Clear drops every queued item, releasing pooled payloads via the drop
// handler, without counting the drops as overflow (this is an explicit
// reset, not backpressure).
func (m *Mailbox[T]) Clear() {
	if m == nil {
		return
	}
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.bytes = 0
	m.mu.Unlock()

	if m.onDrop == nil {
		return
	}
	for _, item := range items {
		m.onDrop(item)
	}
}

// Snapshot returns the mailbox's current metrics. Safe to call from any
// thread; it briefly takes the mailbox lock to read the current count and
// bytes.
func (m *Mailbox[T]) Snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	m.mu.Lock()
	count := len(m.items)
	bytes := m.bytes
	m.mu.Unlock()
	return Metrics{
		CurrentCount: count,
		CurrentBytes: bytes,
		PeakCount:    m.peakCount.Load(),
		PeakBytes:    m.peakBytes.Load(),
		Enqueued:     m.enqueued.Load(),
		Applied:      m.applied.Load(),
		Dropped:      m.dropped.Load(),
		DroppedBytes: m.droppedBytes.Load(),
	}
}

func casMaxInt64(addr *atomic.Int64, value int64) {
	for {
		current := addr.Load()
		if value <= current {
			return
		}
		if addr.CompareAndSwap(current, value) {
			return
		}
	}
}
