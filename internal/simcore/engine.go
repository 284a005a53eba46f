package simcore

import (
	"sort"
	"sync/atomic"
	"time"

	"tickruntime/broker/internal/registry"
)

type registration[T any] struct {
	orderKey int64
	seq      int64
	value    T
}

func sortRegistrations[T any](regs []registration[T]) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].orderKey != regs[j].orderKey {
			return regs[i].orderKey < regs[j].orderKey
		}
		return regs[i].seq < regs[j].seq
	})
}

// TickThreadAsserter is invoked at the start of every tick. Inject the tick
// clock's debug-only assertion so a tick run from off the tick thread
// panics instead of corrupting ordering guarantees.
type TickThreadAsserter func()

// Engine owns the registered gates, participants, and phase hooks and runs
// the strict six-phase pipeline once per call to RunTick. Registrations may
// be added from any thread before or between ticks; RunTick itself must
// only ever be called from the tick thread.
type Engine struct {
	entities func() []registry.EntityHandle
	assert   TickThreadAsserter
	buffer   *EffectBuffer

	nextSeq atomic.Int64

	gates        []registration[Gate]
	participants []registration[Participant]
	preHooks     []registration[PhaseHook]
	postHooks    []registration[PhaseHook]

	lastEligible []registry.EntityHandle
}

// New constructs an engine. entities supplies the ascending-sorted entity
// snapshot consumed at the start of every tick; assert (optional) enforces
// tick-thread-only execution of RunTick.
func New(entities func() []registry.EntityHandle, assert TickThreadAsserter, effectCapacity int) *Engine {
	return &Engine{
		entities: entities,
		assert:   assert,
		buffer:   NewEffectBuffer(effectCapacity),
	}
}

// RegisterGate adds a gate at the given order key. Gates registered with
// equal order keys run in registration order.
func (e *Engine) RegisterGate(gate Gate, orderKey int64) {
	e.gates = append(e.gates, registration[Gate]{orderKey: orderKey, seq: e.nextSeq.Add(1), value: gate})
	sortRegistrations(e.gates)
}

// RegisterParticipant adds a participant at the given order key.
func (e *Engine) RegisterParticipant(p Participant, orderKey int64) {
	e.participants = append(e.participants, registration[Participant]{orderKey: orderKey, seq: e.nextSeq.Add(1), value: p})
	sortRegistrations(e.participants)
}

// RegisterPreTickHook adds a pre-tick hook at the given order key.
func (e *Engine) RegisterPreTickHook(h PhaseHook, orderKey int64) {
	e.preHooks = append(e.preHooks, registration[PhaseHook]{orderKey: orderKey, seq: e.nextSeq.Add(1), value: h})
	sortRegistrations(e.preHooks)
}

// RegisterPostTickHook adds a post-tick hook at the given order key.
func (e *Engine) RegisterPostTickHook(h PhaseHook, orderKey int64) {
	e.postHooks = append(e.postHooks, registration[PhaseHook]{orderKey: orderKey, seq: e.nextSeq.Add(1), value: h})
	sortRegistrations(e.postHooks)
}

// RunTick executes the six-phase pipeline for one tick. It returns
// ErrMidTickEligibilityChange if the stability check finds eligibility
// disagreed with the gating-phase evaluation; in that case no effect is
// committed.
func (e *Engine) RunTick(tickIndex int64, fixedDelta time.Duration) error {
	if e.assert != nil {
		e.assert()
	}
	ctx := &TickContext{tickIndex: tickIndex, fixedDelta: fixedDelta, buffer: e.buffer}

	//1.- Pre-tick hooks run over the raw registry snapshot; eligibility is not yet known.
	snapshot := e.entities()
	for _, h := range e.preHooks {
		h.value.OnPreTick(ctx, snapshot)
	}

	//2.- Eligibility gating over the (possibly hook-mutated) entity set.
	snapshot = e.entities()
	eligible := e.evaluateEligible(snapshot)

	//3.- Ordered participant execution over the frozen eligible set.
	for _, p := range e.participants {
		for _, entity := range eligible {
			p.value.Execute(entity, ctx)
		}
	}

	//4.- Stability check: eligibility must not have moved under participant execution.
	recheck := e.evaluateEligible(snapshot)
	if !sameEntities(eligible, recheck) {
		e.buffer.reset()
		return ErrMidTickEligibilityChange
	}

	//5.- Effect commit, FIFO.
	e.buffer.commitAll()

	//6.- Post-tick hooks see the final eligible set.
	for _, h := range e.postHooks {
		h.value.OnPostTick(ctx, eligible)
	}

	e.lastEligible = eligible
	return nil
}

// evaluateEligible returns the subset of entities for which every
// registered gate (in order) returns true, sorted ascending by handle
// whatever order the snapshot supplied them in.
func (e *Engine) evaluateEligible(entities []registry.EntityHandle) []registry.EntityHandle {
	eligible := make([]registry.EntityHandle, 0, len(entities))
	for _, entity := range entities {
		ok := true
		for _, g := range e.gates {
			if !g.value.IsEligible(entity) {
				ok = false
				break
			}
		}
		if ok {
			eligible = append(eligible, entity)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })
	return eligible
}

// LastEligible returns the eligible set computed by the most recently
// successful tick.
func (e *Engine) LastEligible() []registry.EntityHandle { return e.lastEligible }

func sameEntities(a, b []registry.EntityHandle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
