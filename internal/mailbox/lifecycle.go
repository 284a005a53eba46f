package mailbox

import "tickruntime/broker/internal/registry"

// LifecycleOpKind tags the kind of lifecycle event queued for the tick
// thread. Each kind carries a fixed byte estimate since these events hold
// no pooled payload, only identifiers.
type LifecycleOpKind int

const (
	// DisconnectSession tears down a session's transport-facing state.
	DisconnectSession LifecycleOpKind = iota
	// UnregisterSession removes a session from the active-session index.
	UnregisterSession
	// UnregisterEntity removes a single entity from the entity registry,
	// e.g. when its owning player unloads without the whole zone going away.
	UnregisterEntity
	// ClearVisibility drops a zone's interest/visibility bookkeeping.
	ClearVisibility
	// CleanupReplication discards any pending replication state for a zone,
	// including despawning the zone's entities.
	CleanupReplication
)

// lifecycleOpByteEstimate is the fixed accounted size of any lifecycle op,
// chosen to comfortably cover a kind tag plus one SessionID/ZoneID.
const lifecycleOpByteEstimate = 32

// LifecycleOp is a single tagged lifecycle event.
type LifecycleOp struct {
	Kind    LifecycleOpKind
	Session registry.SessionID
	Zone    registry.ZoneID
	Entity  registry.EntityHandle
}

// ByteSize reports the op's fixed accounted size.
func (LifecycleOp) ByteSize() int { return lifecycleOpByteEstimate }

// LifecycleMailbox queues disconnect/unregister/visibility/replication
// cleanup events for tick-thread application. It has no pooled payloads, so
// it needs no drop handler.
type LifecycleMailbox struct {
	*Mailbox[LifecycleOp]
}

// NewLifecycleMailbox constructs a lifecycle mailbox bounded by maxCount
// events.
func NewLifecycleMailbox(maxCount int, assert TickThreadAsserter) *LifecycleMailbox {
	return &LifecycleMailbox{
		Mailbox: New[LifecycleOp](maxCount, int64(maxCount)*lifecycleOpByteEstimate,
			WithTickThreadAssertion[LifecycleOp](assert)),
	}
}
