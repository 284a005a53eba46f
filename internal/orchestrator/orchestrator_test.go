package orchestrator

import (
	"context"
	"testing"
	"time"

	"tickruntime/broker/internal/combatevents"
	"tickruntime/broker/internal/config"
	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/outbound"
	"tickruntime/broker/internal/persistence"
	"tickruntime/broker/internal/registry"
)

func testConfig() *config.Config {
	return &config.Config{
		TickInterval:   10 * time.Millisecond,
		CatchUpCap:     10,
		StallThreshold: time.Second,
		Backpressure: config.Backpressure{
			MaxInboundCommandsPerSession:      8,
			MaxQueuedBytesPerSession:          4096,
			MaxOutboundSnapshotsPerSession:    4,
			MaxPersistenceWritesPerPlayer:     4,
			MaxPersistenceWritesGlobal:        16,
			MaxPersistenceWriteBytesPerPlayer: 1 << 20,
			MaxPersistenceWriteBytesGlobal:    1 << 20,
			MaxPersistenceCompletions:         16,
			MaxPersistenceCompletionBytes:     1 << 20,
			MaxFramesPerTick:                  16,
		},
	}
}

type stubDecoder struct{}

func (stubDecoder) Decode(payload []byte) (uint32, bool) { return 1, len(payload) > 0 }

type stubWriter struct{}

func (stubWriter) Write(context.Context, persistence.WriteRequest) (mailbox.Lease, error) {
	return nil, nil
}

type stubTransport struct{ dropped []registry.SessionID }

func (s *stubTransport) DropAllForSession(session registry.SessionID) {
	s.dropped = append(s.dropped, session)
}

type stubOutboundTransport struct{}

func (stubOutboundTransport) Send(registry.SessionID, outbound.Snapshot) error { return nil }

type stubSessionLister struct{ sessions []registry.SessionID }

func (s stubSessionLister) Snapshot() []registry.SessionID { return s.sessions }

type stubResolver struct{}

func (stubResolver) Subscribers(combatevents.Event) []registry.SessionID { return nil }

type stubVisibility struct{}

func (stubVisibility) CanReceive(registry.SessionID, combatevents.Event) bool { return true }

type stubSender struct{}

func (stubSender) SendReliable(registry.SessionID, combatevents.Event) {}

type stubSink struct{}

func (stubSink) RecordDelivery(registry.SessionID, combatevents.Event) {}

func testSession(b byte) registry.SessionID {
	var id registry.SessionID
	id[15] = b
	return id
}

func newTestOrchestrator() (*Orchestrator, *stubTransport) {
	transport := &stubTransport{}
	deps := Deps{
		Transport:          transport,
		OutboundTransport:  stubOutboundTransport{},
		OutboundSessions:   stubSessionLister{},
		FrameDecoder:       stubDecoder{},
		PersistenceWriter:  stubWriter{},
		SubscriberResolver: stubResolver{},
		VisibilityPolicy:   stubVisibility{},
		CombatSender:       stubSender{},
		CombatSink:         stubSink{},
	}
	return New(testConfig(), nil, deps), transport
}

func TestStartStopClearsTransientState(t *testing.T) {
	o, transport := newTestOrchestrator()
	session := testSession(1)
	o.sessions.Insert(session)
	o.InboundMailbox().TryEnqueue(mailbox.Frame{Session: session, Lease: fakeLease{}})

	o.Start()
	time.Sleep(30 * time.Millisecond)
	o.Stop()

	if len(transport.dropped) != 1 || transport.dropped[0] != session {
		t.Fatalf("expected session dropped from transport, got %v", transport.dropped)
	}
	if o.sessions.Len() != 0 {
		t.Fatalf("expected empty session index after shutdown, got %d", o.sessions.Len())
	}
}

func TestOnSessionDisconnectedClearsPerSessionState(t *testing.T) {
	o, transport := newTestOrchestrator()
	session := testSession(2)
	o.sessions.Insert(session)
	o.EnqueueOutbound(session, []byte("snapshot"))

	o.OnSessionDisconnected(session)
	o.lifecycleMailbox.Drain(o.applyLifecycleOp)

	if len(transport.dropped) != 1 || transport.dropped[0] != session {
		t.Fatalf("expected transport drop, got %v", transport.dropped)
	}
	if o.sessions.Contains(session) {
		t.Fatal("expected session removed from active index")
	}
	if _, ok := o.outboundQueue.TryDequeueOutbound(session); ok {
		t.Fatal("expected outbound queue cleared for disconnected session")
	}
}

func TestOnZoneUnloadedDespawnsEntitiesAndDropsRoster(t *testing.T) {
	o, _ := newTestOrchestrator()
	zone := registry.ZoneID(7)
	o.Entities().Register(registry.EntityHandle(1), zone)
	session := testSession(3)
	if _, err := o.ZoneRoster(zone).Join(session); err != nil {
		t.Fatalf("join roster: %v", err)
	}

	o.OnZoneUnloaded(zone)
	o.lifecycleMailbox.Drain(o.applyLifecycleOp)

	if _, ok := o.Entities().ZoneOf(registry.EntityHandle(1)); ok {
		t.Fatal("expected entity despawned")
	}
	if r := o.ZoneRoster(zone); len(r.Snapshot().ActiveSessions) != 0 {
		t.Fatal("expected fresh roster after zone unload")
	}
}

func TestOnPlayerUnloadedRemovesEntityAndRosterMembership(t *testing.T) {
	o, _ := newTestOrchestrator()
	zone := registry.ZoneID(9)
	entity := registry.EntityHandle(1)
	o.Entities().Register(entity, zone)
	session := testSession(4)
	if _, err := o.ZoneRoster(zone).Join(session); err != nil {
		t.Fatalf("join roster: %v", err)
	}

	o.OnPlayerUnloaded(entity, session, zone)

	if _, ok := o.Entities().ZoneOf(entity); !ok {
		t.Fatal("expected entity still registered until the lifecycle mailbox is drained")
	}

	o.lifecycleMailbox.Drain(o.applyLifecycleOp)

	if _, ok := o.Entities().ZoneOf(entity); ok {
		t.Fatal("expected entity unregistered after draining lifecycle mailbox")
	}
	if r := o.ZoneRoster(zone); len(r.Snapshot().ActiveSessions) != 0 {
		t.Fatal("expected session removed from zone roster")
	}
}

type fakeLease struct{}

func (fakeLease) Bytes() []byte { return []byte("frame") }
func (fakeLease) Size() int     { return 5 }
func (fakeLease) Release()      {}
