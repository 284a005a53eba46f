package persistence

import (
	"context"
	"testing"
	"time"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/simcore"
)

type fakeLease struct {
	data []byte
	rel  bool
}

func (l *fakeLease) Bytes() []byte { return l.data }
func (l *fakeLease) Size() int     { return len(l.data) }
func (l *fakeLease) Release()      { l.rel = true }

type succeedingWriter struct{}

func (succeedingWriter) Write(ctx context.Context, req WriteRequest) (mailbox.Lease, error) {
	return &fakeLease{data: make([]byte, req.EstimatedBytes)}, nil
}

func ownerKey(r WriteRequest) string { return string(r.PlayerID[:]) }

func TestPersistencePipelineRoundTrip(t *testing.T) {
	writes := mailbox.NewPersistenceWriteMailbox[WriteRequest](16, 1<<20, 128, 1<<20, ownerKey, nil)
	completions := mailbox.NewCompletionMailbox[Completion](128, 1<<19, func(c Completion) {
		if c.Payload != nil {
			c.Payload.Release()
		}
	}, nil)

	writer := succeedingWriter{}
	worker := NewWorker(writes, completions, writer, 16, time.Millisecond)
	applier := NewApplier(completions)

	if reason := writes.TryEnqueue(WriteRequest{SaveID: "saveA", EstimatedBytes: 100}); reason != mailbox.RejectNone {
		t.Fatalf("expected W1 accepted, got %v", reason)
	}
	if reason := writes.TryEnqueue(WriteRequest{SaveID: "saveB", EstimatedBytes: 100}); reason != mailbox.RejectNone {
		t.Fatalf("expected W2 accepted, got %v", reason)
	}

	drained := worker.runIteration(context.Background())
	if drained != 2 {
		t.Fatalf("expected worker to drain 2 requests, got %d", drained)
	}
	if worker.Succeeded() != 2 {
		t.Fatalf("expected 2 successful writes, got %d", worker.Succeeded())
	}

	ctx := simcore.NewTickContext(1, 100*time.Millisecond, nil)
	applier.OnPreTick(ctx, nil)

	if applier.CompletionsApplied() != 2 {
		t.Fatalf("expected 2 completions applied, got %d", applier.CompletionsApplied())
	}
	for _, saveID := range []string{"saveA", "saveB"} {
		state, ok := applier.StateOf(saveID)
		if !ok {
			t.Fatalf("expected state recorded for %s", saveID)
		}
		if state.Status != StatusSucceeded {
			t.Fatalf("expected %s succeeded, got %v", saveID, state.Status)
		}
	}

	writeSnap := writes.Snapshot()
	if writeSnap.Enqueued != 2 || writeSnap.Applied != 2 {
		t.Fatalf("unexpected write mailbox snapshot: %+v", writeSnap)
	}
	completionSnap := completions.Snapshot()
	if completionSnap.Dropped != 0 {
		t.Fatalf("expected no dropped completions, got %+v", completionSnap)
	}
}
