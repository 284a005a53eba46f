// Package orchestrator owns the server loop: the tick clock, the
// simulation engine, the entity and session registries, the inbound pump,
// the outbound send pump, the persistence worker and applier, the combat
// event buffer and replicator, and the transport adapter's lifecycle.
// Phase hooks are registered at well-defined order keys so the pre-tick
// phase applies lifecycle teardown first, then persistence completions,
// then inbound ingestion, all ahead of the application hooks at key zero.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"tickruntime/broker/internal/combatevents"
	"tickruntime/broker/internal/config"
	"tickruntime/broker/internal/inbound"
	"tickruntime/broker/internal/logging"
	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/outbound"
	"tickruntime/broker/internal/persistence"
	"tickruntime/broker/internal/registry"
	"tickruntime/broker/internal/roster"
	"tickruntime/broker/internal/simcore"
	"tickruntime/broker/internal/tickclock"
)

// Order keys at which well-known phase hooks are registered. Negative keys
// run before zero-keyed application hooks registered by callers of
// RegisterParticipant/RegisterGate; the lifecycle mailbox must apply
// session/entity teardown before anything else this tick observes the
// registries, the inbound pump must freeze each tick's command batches
// before any participant reads them, and the persistence applier must
// publish completions before anything this tick might query persisted
// state.
const (
	OrderKeyLifecycleMailbox   = -300
	OrderKeyPersistenceApplier = -200
	OrderKeyInboundPump        = -100
	OrderKeyApplicationHooks   = 0
)

// lifecycleMailboxCapacity bounds how many pending teardown events the
// lifecycle mailbox holds between ticks.
const lifecycleMailboxCapacity = 1024

// Transport is the narrow surface the orchestrator needs from the
// concrete transport adapter: drop a session's live connection and queued
// frames on disconnect.
type Transport interface {
	DropAllForSession(session registry.SessionID)
}

// FrameDecoder is re-exported for wiring convenience; see inbound.FrameDecoder.
type FrameDecoder = inbound.FrameDecoder

// PersistenceWriter is re-exported for wiring convenience; see persistence.Writer.
type PersistenceWriter = persistence.Writer

// Orchestrator wires every subsystem together and drives the fixed-cadence
// tick loop.
type Orchestrator struct {
	cfg    *config.Config
	logger *logging.Logger

	clock  *tickclock.Clock
	engine *simcore.Engine

	entities *registry.EntityRegistry
	sessions *registry.ActiveSessionIndex
	zones    map[registry.ZoneID]*roster.ZoneRoster
	zonesMu  sync.Mutex

	inboundMailbox   *mailbox.InboundMailbox
	ingestor         *inbound.Ingestor
	lifecycleMailbox *mailbox.LifecycleMailbox

	writeMailbox      *mailbox.PersistenceWriteMailbox[persistence.WriteRequest]
	completionMailbox *mailbox.CompletionMailbox[persistence.Completion]
	persistWorker     *persistence.Worker
	persistApplier    *persistence.Applier
	workerCtx         context.Context
	workerCancel      context.CancelFunc

	combatBuffer *combatevents.Buffer
	replicator   *combatevents.Replicator

	outboundQueue *outbound.SessionQueue
	sendPump      *outbound.Pump

	transport Transport

	stopOnce sync.Once
	watchdogStop chan struct{}
}

// Deps bundles the concrete adapters the orchestrator cannot construct for
// itself: the transport layer, the persistence backend, and the frame
// decoder.
type Deps struct {
	Transport         Transport
	OutboundTransport outbound.Transport
	OutboundSessions  outbound.SessionLister
	FrameDecoder      FrameDecoder
	PersistenceWriter PersistenceWriter
	SubscriberResolver combatevents.SubscriberResolver
	VisibilityPolicy   combatevents.VisibilityPolicy
	CombatSender       combatevents.Sender
	CombatSink         combatevents.ValidationSink
}

// New constructs an orchestrator from configuration and its concrete
// adapters, registering every well-known phase hook. The simulation does
// not start until Start is called.
func New(cfg *config.Config, logger *logging.Logger, deps Deps) *Orchestrator {
	if logger == nil {
		logger = logging.NewTestLogger()
	}

	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		entities:     registry.NewEntityRegistry(),
		sessions:     registry.NewActiveSessionIndex(),
		zones:        make(map[registry.ZoneID]*roster.ZoneRoster),
		transport:    deps.Transport,
		watchdogStop: make(chan struct{}),
	}

	o.inboundMailbox = mailbox.NewInboundMailbox(
		cfg.Backpressure.MaxInboundCommandsPerSession,
		cfg.Backpressure.MaxQueuedBytesPerSession,
		o.assertTickThread,
	)
	o.ingestor = inbound.NewIngestor(o.inboundMailbox, deps.FrameDecoder, cfg.Backpressure.MaxFramesPerTick)
	o.lifecycleMailbox = mailbox.NewLifecycleMailbox(lifecycleMailboxCapacity, o.assertTickThread)

	o.writeMailbox = mailbox.NewPersistenceWriteMailbox[persistence.WriteRequest](
		cfg.Backpressure.MaxPersistenceWritesPerPlayer,
		cfg.Backpressure.MaxPersistenceWriteBytesPerPlayer,
		cfg.Backpressure.MaxPersistenceWritesGlobal,
		cfg.Backpressure.MaxPersistenceWriteBytesGlobal,
		func(r persistence.WriteRequest) string { return string(r.PlayerID[:]) },
		nil,
	)
	o.completionMailbox = mailbox.NewCompletionMailbox[persistence.Completion](
		cfg.Backpressure.MaxPersistenceCompletions,
		cfg.Backpressure.MaxPersistenceCompletionBytes,
		func(c persistence.Completion) {
			if c.Payload != nil {
				c.Payload.Release()
			}
		},
		o.assertTickThread,
	)
	o.persistWorker = persistence.NewWorker(o.writeMailbox, o.completionMailbox, deps.PersistenceWriter, 32, time.Millisecond)
	o.persistApplier = persistence.NewApplier(o.completionMailbox)

	o.combatBuffer = combatevents.NewBuffer(4096, o.assertTickThread)
	o.replicator = combatevents.NewReplicator(deps.SubscriberResolver, deps.VisibilityPolicy, deps.CombatSender, deps.CombatSink, 256)

	o.outboundQueue = outbound.NewSessionQueue(cfg.Backpressure.MaxOutboundSnapshotsPerSession)
	o.sendPump = outbound.New(o.outboundQueue, deps.OutboundSessions, deps.OutboundTransport,
		cfg.Backpressure.MaxOutboundSnapshotsPerSession, 256, time.Millisecond)

	o.engine = simcore.New(o.entities.Snapshot, o.assertTickThread, 4096)
	o.engine.RegisterPreTickHook(o, OrderKeyLifecycleMailbox)
	o.engine.RegisterPreTickHook(o.persistApplier, OrderKeyPersistenceApplier)
	o.engine.RegisterPreTickHook(o.ingestor, OrderKeyInboundPump)

	clockCfg := tickclock.Config{
		Interval:       cfg.TickInterval,
		CatchUpCap:     cfg.CatchUpCap,
		StallThreshold: cfg.StallThreshold,
	}
	o.clock = tickclock.New(clockCfg, o.runTick, tickclock.WithStallFunc(o.onStall))
	return o
}

// RegisterGate exposes participant/gate registration at the application
// order-key band, keeping the well-known pre/post hooks at their fixed
// negative order keys.
func (o *Orchestrator) RegisterGate(gate simcore.Gate, orderKey int64) {
	o.engine.RegisterGate(gate, OrderKeyApplicationHooks+orderKey)
}

// RegisterParticipant registers a participant at the application order-key band.
func (o *Orchestrator) RegisterParticipant(p simcore.Participant, orderKey int64) {
	o.engine.RegisterParticipant(p, OrderKeyApplicationHooks+orderKey)
}

// Entities exposes the orchestrator's entity registry for wiring gates and
// participants that need to register or despawn entities.
func (o *Orchestrator) Entities() *registry.EntityRegistry { return o.entities }

// Sessions exposes the active-session index.
func (o *Orchestrator) Sessions() *registry.ActiveSessionIndex { return o.sessions }

// InboundMailbox exposes the shared inbound mailbox for the transport
// layer to enqueue into.
func (o *Orchestrator) InboundMailbox() *mailbox.InboundMailbox { return o.inboundMailbox }

// WriteMailbox exposes the persistence write mailbox for callers
// submitting save requests.
func (o *Orchestrator) WriteMailbox() *mailbox.PersistenceWriteMailbox[persistence.WriteRequest] {
	return o.writeMailbox
}

// Ingestor exposes the frozen-batch reader for participants.
func (o *Orchestrator) Ingestor() *inbound.Ingestor { return o.ingestor }

// Applier exposes the persistence applier's last-known state for participants.
func (o *Orchestrator) Applier() *persistence.Applier { return o.persistApplier }

// CombatBuffer exposes the combat event buffer for participants that emit events.
func (o *Orchestrator) CombatBuffer() *combatevents.Buffer { return o.combatBuffer }

// EnqueueOutbound submits session's serialized snapshot for delivery by
// the send pump.
func (o *Orchestrator) EnqueueOutbound(session registry.SessionID, payload []byte) bool {
	return o.outboundQueue.Enqueue(outbound.Snapshot{Session: session, Payload: payload})
}

// ZoneRoster returns (creating if necessary) the membership roster for a
// zone.
func (o *Orchestrator) ZoneRoster(zone registry.ZoneID) *roster.ZoneRoster {
	o.zonesMu.Lock()
	defer o.zonesMu.Unlock()
	r, ok := o.zones[zone]
	if !ok {
		r, _ = roster.New(zone, roster.WithEnvLookup(nil))
		o.zones[zone] = r
	}
	return r
}

// Start launches the tick clock, the persistence worker, the outbound
// send pump, and the stall watchdog, each on its own goroutine.
func (o *Orchestrator) Start() {
	o.workerCtx, o.workerCancel = context.WithCancel(context.Background())
	go o.persistWorker.Run(o.workerCtx)
	go o.sendPump.Run()
	go o.clock.WatchStalls(o.watchdogStop, o.cfg.StallThreshold/4)
	go o.clock.Run()
}

// Stop halts the tick clock, the stall watchdog, the persistence worker
// (cancelling its context), and the send pump, in that order, then calls
// ShutdownServer to clear transient state.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.clock.Stop()
		close(o.watchdogStop)
		o.persistWorker.Stop()
		if o.workerCancel != nil {
			o.workerCancel()
		}
		o.sendPump.Stop()
		o.ShutdownServer()
	})
}

func (o *Orchestrator) runTick(tickIndex int64, fixedDelta time.Duration) {
	if err := o.engine.RunTick(tickIndex, fixedDelta); err != nil {
		o.logger.Error("tick failed", logging.Int64("tick", tickIndex), logging.Error(err))
		return
	}
	batch := o.combatBuffer.Drain(combatevents.NarrowTick(tickIndex))
	o.replicator.Replicate(batch)
}

func (o *Orchestrator) onStall(d time.Duration) {
	o.logger.Warn("tick loop stalled", logging.Int64("duration_ms", d.Milliseconds()))
}

func (o *Orchestrator) assertTickThread() {
	o.clock.AssertTickThread()
}

// OnSessionDisconnected queues teardown of every piece of per-session
// state: transport queues, the inbound sub-queue, the outbound sub-queue,
// the replication delivery guard, and the active-session index entry. The
// teardown itself runs on the tick thread, applied from the lifecycle
// mailbox at the start of the next tick's pre-tick phase — this method
// never mutates the registries directly, since it may be called from a
// transport goroutine concurrently with a tick in flight.
func (o *Orchestrator) OnSessionDisconnected(session registry.SessionID) {
	o.enqueueLifecycleOp(mailbox.LifecycleOp{Kind: mailbox.DisconnectSession, Session: session})
	o.enqueueLifecycleOp(mailbox.LifecycleOp{Kind: mailbox.UnregisterSession, Session: session})
}

// OnPlayerUnloaded queues removal of a now-unloaded player's entity and its
// zone roster membership, applied on the tick thread.
func (o *Orchestrator) OnPlayerUnloaded(entity registry.EntityHandle, session registry.SessionID, zone registry.ZoneID) {
	o.enqueueLifecycleOp(mailbox.LifecycleOp{Kind: mailbox.UnregisterEntity, Entity: entity, Session: session, Zone: zone})
}

// OnZoneUnloaded queues despawn of every entity registered to the zone and
// removal of its roster, applied on the tick thread.
func (o *Orchestrator) OnZoneUnloaded(zone registry.ZoneID) {
	o.enqueueLifecycleOp(mailbox.LifecycleOp{Kind: mailbox.CleanupReplication, Zone: zone})
	o.enqueueLifecycleOp(mailbox.LifecycleOp{Kind: mailbox.ClearVisibility, Zone: zone})
}

func (o *Orchestrator) enqueueLifecycleOp(op mailbox.LifecycleOp) {
	if !o.lifecycleMailbox.TryEnqueue(op) {
		o.logger.Warn("lifecycle mailbox full, dropping teardown op",
			logging.Int("kind", int(op.Kind)))
	}
}

// OnPreTick drains the lifecycle mailbox and applies every queued teardown
// op in FIFO order, before any other pre-tick hook runs.
func (o *Orchestrator) OnPreTick(_ *simcore.TickContext, _ []registry.EntityHandle) {
	o.lifecycleMailbox.Drain(o.applyLifecycleOp)
}

// OnPostTick is a no-op; the orchestrator's own hook only participates in
// the pre-tick phase.
func (o *Orchestrator) OnPostTick(*simcore.TickContext, []registry.EntityHandle) {}

func (o *Orchestrator) applyLifecycleOp(op mailbox.LifecycleOp) {
	switch op.Kind {
	case mailbox.DisconnectSession:
		if o.transport != nil {
			o.transport.DropAllForSession(op.Session)
		}
		o.inboundMailbox.DropSession(op.Session)
		o.outboundQueue.DropSession(op.Session)
		o.replicator.ReleaseClient(op.Session)
	case mailbox.UnregisterSession:
		o.sessions.Remove(op.Session)
	case mailbox.UnregisterEntity:
		o.entities.Unregister(op.Entity)
		if r := o.ZoneRoster(op.Zone); r != nil {
			r.Leave(op.Session)
		}
	case mailbox.ClearVisibility:
		o.zonesMu.Lock()
		delete(o.zones, op.Zone)
		o.zonesMu.Unlock()
	case mailbox.CleanupReplication:
		o.entities.DespawnZone(op.Zone)
	}
}

// ShutdownServer clears transient state in a single deterministic order:
// for each active session its transport queues, inbound and outbound
// sub-queues and combat delivery guard; then queued persistence
// completions (releasing their leases); then the entity registry, the zone
// rosters and the session index. The command ingestor's frozen batches from
// the last tick are not cleared here and keep holding their payload leases.
func (o *Orchestrator) ShutdownServer() {
	for _, session := range o.sessions.Snapshot() {
		if o.transport != nil {
			o.transport.DropAllForSession(session)
		}
		o.inboundMailbox.DropSession(session)
		o.outboundQueue.DropSession(session)
		o.replicator.ReleaseClient(session)
	}
	o.completionMailbox.Clear()
	o.entities.ClearAll()
	o.zonesMu.Lock()
	o.zones = make(map[registry.ZoneID]*roster.ZoneRoster)
	o.zonesMu.Unlock()
	for _, session := range append([]registry.SessionID(nil), o.sessions.Snapshot()...) {
		o.sessions.Remove(session)
	}
}
