// Package outbound runs the dedicated background send pump that drains
// per-session serialized snapshots to the transport layer off the tick
// thread.
package outbound

import (
	"sync/atomic"
	"time"

	"tickruntime/broker/internal/registry"
)

// Snapshot is one serialized, ready-to-send payload for a single session.
type Snapshot struct {
	Session registry.SessionID
	Payload []byte
}

// ByteSize reports the snapshot's accounted size for mailbox budgeting.
func (s Snapshot) ByteSize() int { return len(s.Payload) }

// Queue exposes per-session dequeue of pending outbound snapshots. It is
// implemented by the outbound side of the transport mailbox.
type Queue interface {
	TryDequeueOutbound(session registry.SessionID) (Snapshot, bool)
}

// SessionLister supplies the deterministic ascending-sorted active session
// list consumed by each pump iteration.
type SessionLister interface {
	Snapshot() []registry.SessionID
}

// Transport takes ownership of a snapshot's payload on success, or is never
// called if the pump already decided to drop it.
type Transport interface {
	Send(session registry.SessionID, snapshot Snapshot) error
}

// Pump runs on its own goroutine, repeatedly snapshotting the active
// session list and draining each session's outbound queue up to
// maxPerSession, capped overall by maxPerIteration.
type Pump struct {
	queue          Queue
	sessions       SessionLister
	transport      Transport
	maxPerSession  int
	maxPerIter     int
	idleDelay      time.Duration

	sent    atomic.Int64
	dropped atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// DefaultIdleDelay is the pump's sleep between iterations that found no
// work.
const DefaultIdleDelay = time.Millisecond

// New constructs a send pump. idleDelay of zero uses DefaultIdleDelay.
func New(queue Queue, sessions SessionLister, transport Transport, maxPerSession, maxPerIteration int, idleDelay time.Duration) *Pump {
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	return &Pump{
		queue:         queue,
		sessions:      sessions,
		transport:     transport,
		maxPerSession: maxPerSession,
		maxPerIter:    maxPerIteration,
		idleDelay:     idleDelay,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Run drives the pump loop until Stop is called. Intended to run on its own
// goroutine.
func (p *Pump) Run() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		if p.runIteration() == 0 {
			select {
			case <-p.stopCh:
				return
			case <-time.After(p.idleDelay):
			}
		}
	}
}

// runIteration drains at most maxPerIteration snapshots across every
// session, capped per-session at maxPerSession, and reports how many it
// sent.
func (p *Pump) runIteration() int {
	sent := 0
	for _, session := range p.sessions.Snapshot() {
		if sent >= p.maxPerIter {
			break
		}
		perSession := 0
		for perSession < p.maxPerSession && sent < p.maxPerIter {
			snap, ok := p.queue.TryDequeueOutbound(session)
			if !ok {
				break
			}
			if err := p.transport.Send(session, snap); err != nil {
				p.dropped.Add(1)
			} else {
				p.sent.Add(1)
			}
			sent++
			perSession++
		}
	}
	return sent
}

// Stop signals the pump to exit and blocks until its goroutine returns.
func (p *Pump) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}

// Sent reports the cumulative count of snapshots successfully handed to the
// transport.
func (p *Pump) Sent() int64 { return p.sent.Load() }

// Dropped reports the cumulative count of snapshots the transport failed to
// send.
func (p *Pump) Dropped() int64 { return p.dropped.Load() }
