package persistence

import (
	"sync"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/registry"
	"tickruntime/broker/internal/simcore"
)

// AppliedState is the last-known outcome of a write, keyed by save id.
type AppliedState struct {
	Request     WriteRequest
	Status      Status
	Reason      FailureReason
	AppliedTick int64
}

// Applier is registered as an early pre-tick hook. It drains the
// completion mailbox every tick and records each outcome in an in-memory
// last-known-state map, releasing the completion's payload lease as soon
// as it has been recorded.
type Applier struct {
	completions *mailbox.CompletionMailbox[Completion]

	mu      sync.Mutex
	state   map[string]AppliedState
	applied int64
}

// NewApplier constructs an applier over the given completion mailbox.
func NewApplier(completions *mailbox.CompletionMailbox[Completion]) *Applier {
	return &Applier{completions: completions, state: make(map[string]AppliedState)}
}

// OnPreTick drains every queued completion and records it.
func (a *Applier) OnPreTick(ctx *simcore.TickContext, _ []registry.EntityHandle) {
	tick := ctx.TickIndex()
	a.completions.Drain(func(c Completion) {
		a.mu.Lock()
		a.state[c.Request.SaveID] = AppliedState{
			Request:     c.Request,
			Status:      c.Status,
			Reason:      c.Reason,
			AppliedTick: tick,
		}
		a.applied++
		a.mu.Unlock()
		if c.Payload != nil {
			c.Payload.Release()
		}
	})
}

// OnPostTick is a no-op; the applier only participates in the pre-tick
// phase.
func (a *Applier) OnPostTick(*simcore.TickContext, []registry.EntityHandle) {}

// StateOf returns the last-known applied state for a save id.
func (a *Applier) StateOf(saveID string) (AppliedState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.state[saveID]
	return state, ok
}

// CompletionsApplied reports the cumulative count of completions recorded.
func (a *Applier) CompletionsApplied() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}
