package combatevents

import "tickruntime/broker/internal/registry"

// SubscriberResolver returns the ordered list of clients subscribed to an
// event's originating context (e.g. zone occupants). Order is meaningful:
// replication fans out to subscribers in the order returned.
type SubscriberResolver interface {
	Subscribers(event Event) []registry.SessionID
}

// VisibilityPolicy decides whether a specific client is currently allowed
// to observe an event (e.g. line-of-sight, privacy). It is an external
// collaborator; this package only consults it.
type VisibilityPolicy interface {
	CanReceive(client registry.SessionID, event Event) bool
}

// Sender delivers one event payload reliably to one client.
type Sender interface {
	SendReliable(client registry.SessionID, event Event)
}

// ValidationSink observes every delivery for test/audit purposes.
type ValidationSink interface {
	RecordDelivery(client registry.SessionID, event Event)
}

// Replicator fans a drained batch out to subscribers, enforcing
// exactly-once-per-tick delivery via one DeliveryGuard per client.
type Replicator struct {
	resolver   SubscriberResolver
	visibility VisibilityPolicy
	sender     Sender
	sink       ValidationSink
	guardCap   int

	guards map[registry.SessionID]*DeliveryGuard

	guardHits         int64
	guardMisses       int64
	releaseMismatches int64
}

// NewReplicator constructs a replicator. guardCap bounds each client's
// per-tick delivery guard before it is forced to clear.
func NewReplicator(resolver SubscriberResolver, visibility VisibilityPolicy, sender Sender, sink ValidationSink, guardCap int) *Replicator {
	return &Replicator{
		resolver:   resolver,
		visibility: visibility,
		sender:     sender,
		sink:       sink,
		guardCap:   guardCap,
		guards:     make(map[registry.SessionID]*DeliveryGuard),
	}
}

// Replicate delivers every event in batch, in emission order, to every
// eligible subscriber in subscriber order.
func (r *Replicator) Replicate(batch Batch) {
	for _, event := range batch.Events {
		for _, client := range r.resolver.Subscribers(event) {
			if !r.visibility.CanReceive(client, event) {
				continue
			}
			guard := r.guardFor(client)
			hit, _ := guard.Offer(batch.Tick, event.EventID)
			if hit {
				r.guardHits++
				continue
			}
			r.sender.SendReliable(client, event)
			r.guardMisses++
			r.sink.RecordDelivery(client, event)
		}
	}
}

// ReleaseClient discards a client's delivery guard, e.g. on disconnect.
// Releasing a client with no guard is counted but non-fatal.
func (r *Replicator) ReleaseClient(client registry.SessionID) {
	if _, ok := r.guards[client]; !ok {
		r.releaseMismatches++
		return
	}
	delete(r.guards, client)
}

func (r *Replicator) guardFor(client registry.SessionID) *DeliveryGuard {
	guard, ok := r.guards[client]
	if !ok {
		guard = NewDeliveryGuard(r.guardCap)
		r.guards[client] = guard
	}
	return guard
}

// GuardHits reports the number of deliveries skipped because the event was
// already delivered to that client within the tick.
func (r *Replicator) GuardHits() int64 { return r.guardHits }

// GuardMisses reports the number of deliveries actually sent.
func (r *Replicator) GuardMisses() int64 { return r.guardMisses }

// ReleaseMismatches reports ReleaseClient calls for a client with no guard.
func (r *Replicator) ReleaseMismatches() int64 { return r.releaseMismatches }
