package mailbox

import (
	"sync"
	"sync/atomic"
)

// CompletionMailbox carries persistence-operation results back to the tick
// thread. Each item owns a payload lease that must be released exactly
// once; the drop handler releases leases for anything evicted by backlog
// pressure, and callers are responsible for releasing what they consume
// out of Drain's apply callback.
type CompletionMailbox[T Item] struct {
	*Mailbox[T]
}

// NewCompletionMailbox constructs a completion mailbox bounded by maxCount
// items and maxBytes total payload size. onDrop releases a dropped item's
// lease.
func NewCompletionMailbox[T Item](maxCount int, maxBytes int64, onDrop func(T), assert TickThreadAsserter) *CompletionMailbox[T] {
	return &CompletionMailbox[T]{
		Mailbox: New[T](maxCount, maxBytes,
			WithDropHandler(onDrop),
			WithTickThreadAssertion[T](assert)),
	}
}

// RejectReason names which cap a rejected write request tripped.
type RejectReason int

const (
	// RejectNone means the request was accepted.
	RejectNone RejectReason = iota
	// RejectOwnerCount means the per-owner item count cap was hit.
	RejectOwnerCount
	// RejectOwnerBytes means the per-owner byte cap was hit.
	RejectOwnerBytes
	// RejectGlobalCount means the mailbox-wide item count cap was hit.
	RejectGlobalCount
	// RejectGlobalBytes means the mailbox-wide byte cap was hit.
	RejectGlobalBytes
)

// PersistenceWriteMailbox queues outbound persistence write requests under
// two simultaneous budgets: a per-owner (e.g. per-player) cap and a
// mailbox-wide global cap, both on item count and total bytes. Unlike the
// transport mailboxes, overflow is rejected rather than evicted — losing a
// persistence write silently would corrupt durable state, so the caller
// must see the rejection and decide how to react (e.g. retry, coalesce).
type PersistenceWriteMailbox[T Item] struct {
	ownerOf         func(T) string
	perOwnerCount   int
	perOwnerBytes   int64
	globalCount     int
	globalBytes     int64
	assert          TickThreadAsserter

	mu         sync.Mutex
	queue      []T
	ownerCount map[string]int
	ownerBytes map[string]int64
	totalCount int
	totalBytes int64

	enqueued atomic.Int64
	applied  atomic.Int64
	rejected atomic.Int64
}

// NewPersistenceWriteMailbox constructs a write mailbox. ownerOf extracts
// the owning key (e.g. player id) from an item for per-owner accounting.
func NewPersistenceWriteMailbox[T Item](perOwnerCount int, perOwnerBytes int64, globalCount int, globalBytes int64, ownerOf func(T) string, assert TickThreadAsserter) *PersistenceWriteMailbox[T] {
	return &PersistenceWriteMailbox[T]{
		ownerOf:       ownerOf,
		perOwnerCount: perOwnerCount,
		perOwnerBytes: perOwnerBytes,
		globalCount:   globalCount,
		globalBytes:   globalBytes,
		assert:        assert,
		ownerCount:    make(map[string]int),
		ownerBytes:    make(map[string]int64),
	}
}

// TryEnqueue attempts to admit item, checking the global caps before the
// per-owner caps, so a request that would exceed both is reported as a
// global rejection.
func (m *PersistenceWriteMailbox[T]) TryEnqueue(item T) RejectReason {
	if m == nil {
		return RejectGlobalCount
	}
	owner := m.ownerOf(item)
	size := int64(item.ByteSize())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalCount+1 > m.globalCount {
		m.rejected.Add(1)
		return RejectGlobalCount
	}
	if m.totalBytes+size > m.globalBytes {
		m.rejected.Add(1)
		return RejectGlobalBytes
	}
	if m.ownerCount[owner]+1 > m.perOwnerCount {
		m.rejected.Add(1)
		return RejectOwnerCount
	}
	if m.ownerBytes[owner]+size > m.perOwnerBytes {
		m.rejected.Add(1)
		return RejectOwnerBytes
	}

	m.queue = append(m.queue, item)
	m.ownerCount[owner]++
	m.ownerBytes[owner] += size
	m.totalCount++
	m.totalBytes += size
	m.enqueued.Add(1)
	return RejectNone
}

// Drain applies every queued item in FIFO order and empties the mailbox.
// Tick-thread only.
func (m *PersistenceWriteMailbox[T]) Drain(apply func(T)) int {
	if m == nil || apply == nil {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}

	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.ownerCount = make(map[string]int)
	m.ownerBytes = make(map[string]int64)
	m.totalCount = 0
	m.totalBytes = 0
	m.mu.Unlock()

	for _, item := range queue {
		apply(item)
		m.applied.Add(1)
	}
	return len(queue)
}

// DrainN applies up to maxItems queued items in FIFO order, leaving any
// remainder queued for a later drain. Tick-thread only.
func (m *PersistenceWriteMailbox[T]) DrainN(maxItems int, apply func(T)) int {
	if m == nil || apply == nil || maxItems <= 0 {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}

	m.mu.Lock()
	n := maxItems
	if n > len(m.queue) {
		n = len(m.queue)
	}
	taken := make([]T, n)
	copy(taken, m.queue[:n])
	remainder := make([]T, len(m.queue)-n)
	copy(remainder, m.queue[n:])
	m.queue = remainder
	for _, item := range taken {
		owner := m.ownerOf(item)
		size := int64(item.ByteSize())
		m.ownerCount[owner]--
		m.ownerBytes[owner] -= size
		if m.ownerCount[owner] <= 0 {
			delete(m.ownerCount, owner)
			delete(m.ownerBytes, owner)
		}
		m.totalCount--
		m.totalBytes -= size
	}
	m.mu.Unlock()

	for _, item := range taken {
		apply(item)
		m.applied.Add(1)
	}
	return n
}

// WriteMailboxMetrics is a point-in-time snapshot of a write mailbox.
type WriteMailboxMetrics struct {
	CurrentCount int
	CurrentBytes int64
	Enqueued     int64
	Applied      int64
	Rejected     int64
}

// Snapshot returns the mailbox's current metrics.
func (m *PersistenceWriteMailbox[T]) Snapshot() WriteMailboxMetrics {
	if m == nil {
		return WriteMailboxMetrics{}
	}
	m.mu.Lock()
	count := m.totalCount
	bytes := m.totalBytes
	m.mu.Unlock()
	return WriteMailboxMetrics{
		CurrentCount: count,
		CurrentBytes: bytes,
		Enqueued:     m.enqueued.Load(),
		Applied:      m.applied.Load(),
		Rejected:     m.rejected.Load(),
	}
}
