// Package simcore runs the strictly ordered per-tick pipeline: pre-tick
// hooks, eligibility gating, ordered participant execution with buffered
// effects, an eligibility stability re-check, FIFO effect commit, and
// post-tick hooks. Every registration is sorted by (orderKey, registration
// sequence) so execution order never depends on map or goroutine
// scheduling.
package simcore

import (
	"time"

	"tickruntime/broker/internal/registry"
)

// TickContext is the per-tick handle passed to every gate, participant, and
// hook. Participants buffer side effects through it rather than mutating
// state directly; the buffer stays opaque until the commit phase.
type TickContext struct {
	tickIndex  int64
	fixedDelta time.Duration
	buffer     *EffectBuffer
}

// NewTickContext constructs a tick context bound to an effect buffer. Phase
// hooks and participants receive one from the engine during RunTick; this
// constructor exists for unit-testing a hook or participant in isolation.
func NewTickContext(tickIndex int64, fixedDelta time.Duration, buffer *EffectBuffer) *TickContext {
	if buffer == nil {
		buffer = NewEffectBuffer(0)
	}
	return &TickContext{tickIndex: tickIndex, fixedDelta: fixedDelta, buffer: buffer}
}

// TickIndex returns the monotone logical step index of the current tick.
func (c *TickContext) TickIndex() int64 { return c.tickIndex }

// FixedDelta returns the fixed simulation step duration (100 ms by default).
func (c *TickContext) FixedDelta() time.Duration { return c.fixedDelta }

// BufferEffect enqueues a deferred command for the commit phase. It never
// executes the command immediately: no participant may observe an effect
// produced during the same tick.
func (c *TickContext) BufferEffect(cmd EffectCommand) {
	c.buffer.enqueue(cmd)
}

// EffectCommand is a deferred side-effect enqueued during participant
// execution and invoked in FIFO order at the commit phase. Commit is
// expected to be idempotent at the boundary it touches; a command that
// cannot safely commit is a fatal condition for the tick, not a recoverable
// one.
type EffectCommand interface {
	Label() string
	Commit()
}

// Gate decides whether an entity participates in the current tick. The AND
// of every registered gate determines eligibility, and eligibility must be
// pure with respect to state read at evaluation time.
type Gate interface {
	Name() string
	IsEligible(entity registry.EntityHandle) bool
}

// Participant executes gameplay logic for each eligible entity. It may
// buffer effects via the tick context but must never mutate externally
// observable state directly.
type Participant interface {
	Execute(entity registry.EntityHandle, ctx *TickContext)
}

// PhaseHook runs once per tick before gating (pre-tick) or after commit
// (post-tick). The eligible slice passed to OnPreTick is the registry's raw
// snapshot, since eligibility has not yet been evaluated at that phase;
// OnPostTick receives the final, stability-checked eligible set.
type PhaseHook interface {
	OnPreTick(ctx *TickContext, entities []registry.EntityHandle)
	OnPostTick(ctx *TickContext, eligible []registry.EntityHandle)
}
