package simcore

import (
	"testing"
	"time"

	"tickruntime/broker/internal/registry"
)

type traceHook struct {
	label string
	trace *[]string
}

func (h traceHook) OnPreTick(ctx *TickContext, entities []registry.EntityHandle) {
	*h.trace = append(*h.trace, "pre")
}
func (h traceHook) OnPostTick(ctx *TickContext, eligible []registry.EntityHandle) {
	*h.trace = append(*h.trace, "post")
}

type traceParticipant struct {
	trace *[]string
}

func (p traceParticipant) Execute(entity registry.EntityHandle, ctx *TickContext) {
	*p.trace = append(*p.trace, "simulate")
}

type alwaysEligible struct{}

func (alwaysEligible) Name() string                                { return "always" }
func (alwaysEligible) IsEligible(registry.EntityHandle) bool       { return true }

func fixedEntities(handles ...registry.EntityHandle) func() []registry.EntityHandle {
	return func() []registry.EntityHandle { return handles }
}

func TestPhasesExecuteInOrder(t *testing.T) {
	var trace []string
	e := New(fixedEntities(1), nil, 0)
	e.RegisterGate(alwaysEligible{}, 0)
	e.RegisterPreTickHook(traceHook{trace: &trace}, 0)
	e.RegisterPostTickHook(traceHook{trace: &trace}, 0)
	e.RegisterParticipant(traceParticipant{trace: &trace}, 0)

	if err := e.RunTick(1, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"pre", "simulate", "post"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

type orderedParticipant struct {
	label string
	trace *[]string
}

func (p orderedParticipant) Execute(entity registry.EntityHandle, ctx *TickContext) {
	*p.trace = append(*p.trace, p.label+":"+itoa(entity))
}

func itoa(h registry.EntityHandle) string {
	if h == 0 {
		return "0"
	}
	neg := h < 0
	if neg {
		h = -h
	}
	var buf [20]byte
	i := len(buf)
	for h > 0 {
		i--
		buf[i] = byte('0' + h%10)
		h /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDeterministicExecutionOrder(t *testing.T) {
	for run := 0; run < 2; run++ {
		var trace []string
		e := New(fixedEntities(20, 10), nil, 0)
		e.RegisterGate(alwaysEligible{}, 0)
		e.RegisterParticipant(orderedParticipant{label: "p1", trace: &trace}, 1)
		e.RegisterParticipant(orderedParticipant{label: "p2", trace: &trace}, 2)

		if err := e.RunTick(int64(run), 100*time.Millisecond); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"p1:10", "p1:20", "p2:10", "p2:20"}
		if len(trace) != len(want) {
			t.Fatalf("run %d: trace = %v, want %v", run, trace, want)
		}
		for i := range want {
			if trace[i] != want[i] {
				t.Fatalf("run %d: trace = %v, want %v", run, trace, want)
			}
		}
	}
}

type flippingGate struct {
	eligible bool
}

func (g *flippingGate) Name() string { return "flip" }
func (g *flippingGate) IsEligible(registry.EntityHandle) bool { return g.eligible }

type flipEffect struct {
	committed *bool
}

func (flipEffect) Label() string       { return "flip" }
func (f flipEffect) Commit()           { *f.committed = true }

type flippingParticipant struct {
	gate      *flippingGate
	committed *bool
}

func (p flippingParticipant) Execute(entity registry.EntityHandle, ctx *TickContext) {
	p.gate.eligible = false
	ctx.BufferEffect(flipEffect{committed: p.committed})
}

func TestMidTickEligibilityChangeRejected(t *testing.T) {
	gate := &flippingGate{eligible: true}
	committed := false
	e := New(fixedEntities(3), nil, 0)
	e.RegisterGate(gate, 0)
	e.RegisterParticipant(flippingParticipant{gate: gate, committed: &committed}, 0)

	err := e.RunTick(1, 100*time.Millisecond)
	if err != ErrMidTickEligibilityChange {
		t.Fatalf("expected ErrMidTickEligibilityChange, got %v", err)
	}
	if committed {
		t.Fatal("expected effect not committed after mid-tick eligibility change")
	}
}

type selectiveGate struct {
	accept registry.EntityHandle
}

func (g selectiveGate) Name() string { return "selective" }
func (g selectiveGate) IsEligible(entity registry.EntityHandle) bool { return entity == g.accept }

func TestNonEligibleEntitiesExcluded(t *testing.T) {
	var executed []registry.EntityHandle
	e := New(fixedEntities(100, 200), nil, 0)
	e.RegisterGate(selectiveGate{accept: 100}, 0)
	e.RegisterParticipant(recordingParticipant{executed: &executed}, 0)

	if err := e.RunTick(1, 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(executed) != 1 || executed[0] != 100 {
		t.Fatalf("executed = %v, want [100]", executed)
	}
}

type recordingParticipant struct {
	executed *[]registry.EntityHandle
}

func (p recordingParticipant) Execute(entity registry.EntityHandle, ctx *TickContext) {
	*p.executed = append(*p.executed, entity)
}
