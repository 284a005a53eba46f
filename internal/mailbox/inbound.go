package mailbox

import (
	"sort"
	"sync"

	"tickruntime/broker/internal/registry"
)

// Frame is a single client-submitted payload awaiting delivery into a
// frozen per-tick command batch. The Lease is a pooled byte buffer that
// must be released exactly once, on whichever path consumes or drops it.
type Frame struct {
	Session registry.SessionID
	Lease   Lease
}

// ByteSize reports the frame's accounted size for mailbox budgeting.
func (f Frame) ByteSize() int { return f.Lease.Size() }

// Lease is a pooled byte buffer crossing from the transport thread into the
// tick thread. Release must be called exactly once regardless of whether
// the payload was consumed or dropped.
type Lease interface {
	Bytes() []byte
	Size() int
	Release()
}

// InboundMailbox fans frames in from any number of transport goroutines
// into per-session sub-queues, each bounded independently so one noisy
// session cannot starve the others. Drain visits sessions in ascending
// SessionID order, matching the registry's deterministic ordering.
type InboundMailbox struct {
	perSessionCount int
	perSessionBytes int64
	assert          TickThreadAsserter

	mu    sync.Mutex
	boxes map[registry.SessionID]*Mailbox[Frame]
}

// NewInboundMailbox constructs an inbound mailbox whose per-session
// sub-queues are each bounded by perSessionCount frames and perSessionBytes
// total payload size.
func NewInboundMailbox(perSessionCount int, perSessionBytes int64, assert TickThreadAsserter) *InboundMailbox {
	return &InboundMailbox{
		perSessionCount: perSessionCount,
		perSessionBytes: perSessionBytes,
		assert:          assert,
		boxes:           make(map[registry.SessionID]*Mailbox[Frame]),
	}
}

// TryEnqueue submits a frame for the given session, creating its sub-queue
// on first use. Safe to call from any thread.
func (m *InboundMailbox) TryEnqueue(frame Frame) bool {
	if m == nil {
		return false
	}
	box := m.boxFor(frame.Session)
	return box.TryEnqueue(frame)
}

func (m *InboundMailbox) boxFor(session registry.SessionID) *Mailbox[Frame] {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[session]
	if !ok {
		box = New[Frame](m.perSessionCount, m.perSessionBytes,
			WithDropHandler(func(f Frame) { f.Lease.Release() }))
		m.boxes[session] = box
	}
	return box
}

// Drain visits every session's sub-queue in ascending SessionID order and
// applies every queued frame in FIFO order within that session. Tick-thread
// only.
func (m *InboundMailbox) Drain(apply func(registry.SessionID, Frame)) int {
	if m == nil || apply == nil {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}

	m.mu.Lock()
	sessions := make([]registry.SessionID, 0, len(m.boxes))
	for session := range m.boxes {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Compare(sessions[j]) < 0 })
	boxes := m.boxes
	m.mu.Unlock()

	applied := 0
	for _, session := range sessions {
		box := boxes[session]
		applied += box.Drain(func(f Frame) { apply(session, f) })
	}
	return applied
}

// DrainUpTo visits sessions in ascending SessionID order and applies up to
// maxFrames total frames across all of them, leaving any remainder queued
// for the next tick. Tick-thread only.
func (m *InboundMailbox) DrainUpTo(maxFrames int, apply func(registry.SessionID, Frame)) int {
	if m == nil || apply == nil || maxFrames <= 0 {
		return 0
	}
	if m.assert != nil {
		m.assert()
	}

	m.mu.Lock()
	sessions := make([]registry.SessionID, 0, len(m.boxes))
	for session := range m.boxes {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Compare(sessions[j]) < 0 })
	boxes := m.boxes
	m.mu.Unlock()

	applied := 0
	for _, session := range sessions {
		if applied >= maxFrames {
			break
		}
		box := boxes[session]
		applied += box.DrainN(maxFrames-applied, func(f Frame) { apply(session, f) })
	}
	return applied
}

// DropSession discards and releases every pending frame for a session and
// removes its sub-queue entirely. Used when a session disconnects.
func (m *InboundMailbox) DropSession(session registry.SessionID) {
	if m == nil {
		return
	}
	m.mu.Lock()
	box, ok := m.boxes[session]
	if ok {
		delete(m.boxes, session)
	}
	m.mu.Unlock()
	if ok {
		box.Clear()
	}
}

// Snapshot aggregates metrics across every active session sub-queue.
func (m *InboundMailbox) Snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	m.mu.Lock()
	boxes := make([]*Mailbox[Frame], 0, len(m.boxes))
	for _, box := range m.boxes {
		boxes = append(boxes, box)
	}
	m.mu.Unlock()

	var agg Metrics
	for _, box := range boxes {
		s := box.Snapshot()
		agg.CurrentCount += s.CurrentCount
		agg.CurrentBytes += s.CurrentBytes
		agg.Enqueued += s.Enqueued
		agg.Applied += s.Applied
		agg.Dropped += s.Dropped
		agg.DroppedBytes += s.DroppedBytes
		if s.PeakCount > agg.PeakCount {
			agg.PeakCount = s.PeakCount
		}
		if s.PeakBytes > agg.PeakBytes {
			agg.PeakBytes = s.PeakBytes
		}
	}
	return agg
}
