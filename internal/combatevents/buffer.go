// Package combatevents implements the fixed-capacity per-tick combat event
// buffer and the per-client exactly-once replication guard that sits above
// it. Combat resolution math itself is an external collaborator; this
// package only buffers, drains, and replicates already-resolved events.
package combatevents

import "math"

// EventKind tags the closed set of combat event variants this core knows
// how to carry. Gameplay-specific payload shape lives in Outcome, which
// this package never interprets.
type EventKind int

const (
	// EventHit marks a successful hit resolution.
	EventHit EventKind = iota
	// EventMiss marks a resolved miss.
	EventMiss
	// EventDefeated marks a subject's defeat.
	EventDefeated
	// EventStatusApplied marks a status effect application.
	EventStatusApplied
)

// Event is one combat occurrence for a single authoritative tick.
type Event struct {
	EventID           int64
	AuthoritativeTick int32
	ContextID         int64
	Kind              EventKind
	Subject           int64
	Outcome           any
}

// NarrowTick checked-converts the scheduler's monotone i64 tick index into
// the i32 authoritative tick carried on every combat event. Overflow is
// treated as fatal, per design: a server has never run 2^31 ticks (at 10 Hz
// that is over six years of continuous uptime) without a restart, so
// reaching this path means the clock or the conversion site is broken.
func NarrowTick(tickIndex int64) int32 {
	if tickIndex < math.MinInt32 || tickIndex > math.MaxInt32 {
		panic("combatevents: tick index does not fit in authoritative tick width")
	}
	return int32(tickIndex)
}

// Batch is an immutable drain result: every event emitted for one
// authoritative tick.
type Batch struct {
	Tick   int32
	Events []Event
}

// TickThreadAsserter enforces tick-thread-only access to TryEmit and Drain.
type TickThreadAsserter func()

// Buffer is the fixed-capacity ring for one tick's worth of combat events.
// While non-empty it carries exactly one authoritative tick; an emission
// tagged with any other tick is rejected and counted.
type Buffer struct {
	capacity int
	events   []Event
	tick     int32
	hasTick  bool
	assert   TickThreadAsserter

	mismatchCount int64
	overflowCount int64
}

// NewBuffer constructs a buffer bounded to capacity events per tick.
func NewBuffer(capacity int, assert TickThreadAsserter) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, events: make([]Event, 0, capacity), assert: assert}
}

// TryEmit appends event if it matches the buffer's adopted tick (or adopts
// it if the buffer is currently empty) and the buffer has room. It reports
// whether the event was accepted.
func (b *Buffer) TryEmit(event Event) bool {
	if b.assert != nil {
		b.assert()
	}
	if !b.hasTick {
		b.tick = event.AuthoritativeTick
		b.hasTick = true
	} else if event.AuthoritativeTick != b.tick {
		b.mismatchCount++
		return false
	}
	if len(b.events) >= b.capacity {
		b.overflowCount++
		return false
	}
	b.events = append(b.events, event)
	return true
}

// Drain produces an immutable batch tagged with tick and fully resets the
// buffer, clearing event slots so array references do not pin payloads.
func (b *Buffer) Drain(tick int32) Batch {
	if b.assert != nil {
		b.assert()
	}
	out := make([]Event, len(b.events))
	copy(out, b.events)
	for i := range b.events {
		b.events[i] = Event{}
	}
	b.events = b.events[:0]
	b.hasTick = false
	return Batch{Tick: tick, Events: out}
}

// MismatchCount reports how many emissions were rejected for carrying a
// tick other than the buffer's currently adopted one.
func (b *Buffer) MismatchCount() int64 { return b.mismatchCount }

// OverflowCount reports how many emissions were rejected because the
// buffer was at capacity.
func (b *Buffer) OverflowCount() int64 { return b.overflowCount }
