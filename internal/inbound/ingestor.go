// Package inbound drains the transport inbound mailbox on the tick thread
// and freezes one immutable per-session command batch per tick, tagged
// with the authoritative tick it was captured on.
package inbound

import (
	"errors"
	"sort"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/registry"
	"tickruntime/broker/internal/simcore"
)

// ErrFrozenBatchTickMismatch is raised when a participant queries a batch
// whose authoritative tick no longer matches the current simulation tick —
// a reuse bug, never a normal runtime condition.
var ErrFrozenBatchTickMismatch = errors.New("inbound: frozen batch tick mismatch")

// Command is one decoded client command extracted from an inbound frame.
type Command struct {
	CommandType uint32
	Lease       mailbox.Lease
}

// FrozenBatch is an immutable view over one session's commands captured at
// the start of a single tick.
type FrozenBatch struct {
	tick     int64
	commands []Command
}

// AuthoritativeTick returns the tick this batch was frozen on.
func (b *FrozenBatch) AuthoritativeTick() int64 { return b.tick }

// Commands returns the batch's commands in submission order. Callers must
// treat the returned slice as read-only.
func (b *FrozenBatch) Commands() []Command { return b.commands }

func (b *FrozenBatch) releaseLeases() {
	for _, cmd := range b.commands {
		cmd.Lease.Release()
	}
}

// FrameDecoder turns one inbound mailbox frame into a command. Decode
// failures drop the frame (counted by the caller) rather than aborting the
// tick.
type FrameDecoder interface {
	Decode(payload []byte) (commandType uint32, ok bool)
}

// Ingestor is registered as a pre-tick hook. Each tick it drains the
// transport inbound mailbox up to maxFramesPerTick, then freezes one batch
// per session seen this tick, replacing whatever batch that session held
// from the prior tick.
type Ingestor struct {
	inbound          *mailbox.InboundMailbox
	decoder          FrameDecoder
	maxFramesPerTick int

	batches map[registry.SessionID]*FrozenBatch

	framesDecoded int64
	framesDropped int64
}

// NewIngestor constructs an ingestor bounded to maxFramesPerTick drained
// frames per tick.
func NewIngestor(inbound *mailbox.InboundMailbox, decoder FrameDecoder, maxFramesPerTick int) *Ingestor {
	return &Ingestor{
		inbound:          inbound,
		decoder:          decoder,
		maxFramesPerTick: maxFramesPerTick,
		batches:          make(map[registry.SessionID]*FrozenBatch),
	}
}

// OnPreTick drains the inbound mailbox and freezes this tick's per-session
// batches. Sessions with no new frames this tick get no batch at all
// (BatchFor reports false) rather than their previous one, so stale
// commands never replay.
func (ing *Ingestor) OnPreTick(ctx *simcore.TickContext, _ []registry.EntityHandle) {
	for _, batch := range ing.batches {
		batch.releaseLeases()
	}

	pending := make(map[registry.SessionID][]Command)
	ing.inbound.DrainUpTo(ing.maxFramesPerTick, func(session registry.SessionID, frame mailbox.Frame) {
		commandType, ok := ing.decoder.Decode(frame.Lease.Bytes())
		if !ok {
			ing.framesDropped++
			frame.Lease.Release()
			return
		}
		ing.framesDecoded++
		pending[session] = append(pending[session], Command{CommandType: commandType, Lease: frame.Lease})
	})

	tick := ctx.TickIndex()
	next := make(map[registry.SessionID]*FrozenBatch, len(pending))
	sessions := make([]registry.SessionID, 0, len(pending))
	for session := range pending {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Compare(sessions[j]) < 0 })
	for _, session := range sessions {
		next[session] = &FrozenBatch{tick: tick, commands: pending[session]}
	}
	ing.batches = next
}

// OnPostTick is a no-op; the ingestor only participates in the pre-tick
// phase. It exists so Ingestor satisfies simcore.PhaseHook directly.
func (ing *Ingestor) OnPostTick(*simcore.TickContext, []registry.EntityHandle) {}

// BatchFor returns the current tick's frozen batch for a session, or false
// if the session submitted nothing this tick.
func (ing *Ingestor) BatchFor(session registry.SessionID) (*FrozenBatch, bool) {
	batch, ok := ing.batches[session]
	return batch, ok
}

// VerifyTick raises ErrFrozenBatchTickMismatch if batch was not frozen on
// currentTick. Participants must call this before trusting a batch.
func VerifyTick(batch *FrozenBatch, currentTick int64) error {
	if batch.tick != currentTick {
		return ErrFrozenBatchTickMismatch
	}
	return nil
}

// FramesDecoded reports how many frames were successfully decoded.
func (ing *Ingestor) FramesDecoded() int64 { return ing.framesDecoded }

// FramesDropped reports how many frames failed to decode and were dropped.
func (ing *Ingestor) FramesDropped() int64 { return ing.framesDropped }
