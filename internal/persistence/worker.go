// Package persistence runs the off-tick persistence worker and the
// tick-thread applier that reconciles its completions into in-memory
// last-known state. The physical write backend is an external collaborator
// reached only through the Writer contract.
package persistence

import (
	"context"
	"sync/atomic"
	"time"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/registry"
)

// WriteRequest is one durable-write intent. EstimatedBytes feeds mailbox
// budget accounting and need not match the eventual serialized size
// exactly.
type WriteRequest struct {
	SaveID         string
	PlayerID       registry.SessionID
	EstimatedBytes int
	Label          string
	Payload        []byte
}

// ByteSize satisfies mailbox.Item using the request's own estimate.
func (r WriteRequest) ByteSize() int { return r.EstimatedBytes }

// Status is the outcome of one write attempt.
type Status int

const (
	// StatusSucceeded means the backend durably persisted the write.
	StatusSucceeded Status = iota
	// StatusFailed means the backend reported or raised an error.
	StatusFailed
)

// FailureReason classifies a failed write. ReasonUnknown is the catch-all
// for any error the writer could not classify, per the "no exception
// escapes the worker" rule.
type FailureReason int

const (
	// ReasonNone applies to successful completions.
	ReasonNone FailureReason = iota
	// ReasonUnknown covers any unclassified writer error.
	ReasonUnknown
	// ReasonBackendUnavailable covers a writer reporting its backend down.
	ReasonBackendUnavailable
)

// Completion carries a write's outcome back to the tick thread, owning the
// payload lease the writer produced (if any) until the Applier's OnPreTick
// releases it.
type Completion struct {
	Request WriteRequest
	Status  Status
	Reason  FailureReason
	Payload mailbox.Lease
}

// ByteSize satisfies mailbox.Item for the completion mailbox budget.
func (c Completion) ByteSize() int {
	if c.Payload == nil {
		return 1
	}
	return c.Payload.Size()
}

// Writer is the opaque physical persistence backend. Write must never
// panic; any failure should be returned as an error, which the worker
// records as a failed completion with ReasonUnknown.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) (mailbox.Lease, error)
}

// Worker drains the write mailbox off the tick thread, calls the writer,
// and stages completions for the applier.
type Worker struct {
	writes      *mailbox.PersistenceWriteMailbox[WriteRequest]
	completions *mailbox.CompletionMailbox[Completion]
	writer      Writer
	maxPerIter  int
	idleDelay   time.Duration

	succeeded atomic.Int64
	failed    atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// DefaultIdleDelay matches the outbound pump's idle sleep between empty
// iterations.
const DefaultIdleDelay = time.Millisecond

// NewWorker constructs a persistence worker.
func NewWorker(writes *mailbox.PersistenceWriteMailbox[WriteRequest], completions *mailbox.CompletionMailbox[Completion], writer Writer, maxPerIteration int, idleDelay time.Duration) *Worker {
	if idleDelay <= 0 {
		idleDelay = DefaultIdleDelay
	}
	return &Worker{
		writes:      writes,
		completions: completions,
		writer:      writer,
		maxPerIter:  maxPerIteration,
		idleDelay:   idleDelay,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run drives the worker loop until ctx is cancelled or Stop is called.
// Intended to run on its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}
		if w.runIteration(ctx) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-time.After(w.idleDelay):
			}
		}
	}
}

func (w *Worker) runIteration(ctx context.Context) int {
	return w.writes.DrainN(w.maxPerIter, func(req WriteRequest) {
		payload, err := w.writer.Write(ctx, req)
		completion := Completion{Request: req}
		if err != nil {
			completion.Status = StatusFailed
			completion.Reason = ReasonUnknown
			w.failed.Add(1)
		} else {
			completion.Status = StatusSucceeded
			completion.Payload = payload
			w.succeeded.Add(1)
		}
		w.completions.TryEnqueue(completion)
	})
}

// Stop signals the worker to exit and blocks until its goroutine returns.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

// Succeeded reports the cumulative count of successful writes.
func (w *Worker) Succeeded() int64 { return w.succeeded.Load() }

// Failed reports the cumulative count of failed writes.
func (w *Worker) Failed() int64 { return w.failed.Load() }
