package outbound

import (
	"sort"
	"sync"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/registry"
)

// SessionQueue is the tick-thread-facing half of the outbound mailbox: a
// post-tick hook calls Enqueue once per session per tick with that
// session's freshly serialized snapshot. Each session's sub-queue is
// bounded to maxPerSession snapshots under drop-oldest backpressure,
// matching §4.3's transport-queue policy.
type SessionQueue struct {
	maxPerSession int

	mu    sync.Mutex
	boxes map[registry.SessionID]*mailbox.Mailbox[Snapshot]
}

// NewSessionQueue constructs a per-session outbound queue bounded to
// maxPerSession snapshots per session.
func NewSessionQueue(maxPerSession int) *SessionQueue {
	return &SessionQueue{
		maxPerSession: maxPerSession,
		boxes:         make(map[registry.SessionID]*mailbox.Mailbox[Snapshot]),
	}
}

// Enqueue submits session's snapshot, dropping the oldest queued snapshot
// for that session if its sub-queue is already full.
func (q *SessionQueue) Enqueue(snapshot Snapshot) bool {
	return q.boxFor(snapshot.Session).TryEnqueue(snapshot)
}

// TryDequeueOutbound implements Queue: pops the oldest queued snapshot for
// session, if any.
func (q *SessionQueue) TryDequeueOutbound(session registry.SessionID) (Snapshot, bool) {
	q.mu.Lock()
	box, ok := q.boxes[session]
	q.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	var result Snapshot
	found := false
	box.DrainN(1, func(s Snapshot) {
		result = s
		found = true
	})
	return result, found
}

// DropSession discards session's queued snapshots and removes its
// sub-queue, used on disconnect.
func (q *SessionQueue) DropSession(session registry.SessionID) {
	q.mu.Lock()
	box, ok := q.boxes[session]
	if ok {
		delete(q.boxes, session)
	}
	q.mu.Unlock()
	if ok {
		box.Clear()
	}
}

// Sessions returns the sessions with a live sub-queue, ascending, for
// diagnostics.
func (q *SessionQueue) Sessions() []registry.SessionID {
	q.mu.Lock()
	defer q.mu.Unlock()
	sessions := make([]registry.SessionID, 0, len(q.boxes))
	for session := range q.boxes {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Compare(sessions[j]) < 0 })
	return sessions
}

func (q *SessionQueue) boxFor(session registry.SessionID) *mailbox.Mailbox[Snapshot] {
	q.mu.Lock()
	defer q.mu.Unlock()
	box, ok := q.boxes[session]
	if !ok {
		box = mailbox.New[Snapshot](q.maxPerSession, 1<<62, nil)
		q.boxes[session] = box
	}
	return box
}
