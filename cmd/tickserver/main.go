// Command tickserver wires configuration, logging, identity verification,
// the compressed persistence backend, the websocket transport, and the
// server loop orchestrator into one running process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tickruntime/broker/internal/combatevents"
	"tickruntime/broker/internal/config"
	httpapi "tickruntime/broker/internal/http"
	"tickruntime/broker/internal/identity"
	"tickruntime/broker/internal/logging"
	"tickruntime/broker/internal/orchestrator"
	"tickruntime/broker/internal/outbound"
	"tickruntime/broker/internal/persistwrite"
	"tickruntime/broker/internal/registry"
	"tickruntime/broker/internal/transport"
)

const (
	joinRateWindow = time.Minute
	joinRateBurst  = 30
)

func main() {
	startedAt := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	verifier, err := identity.NewJoinTokenVerifier(cfg.JoinTokenSecret, 5*time.Second)
	if err != nil {
		logger.Fatal("failed to configure join token verifier", logging.Error(err))
	}

	if err := os.MkdirAll(cfg.PersistenceDir, 0o755); err != nil {
		logger.Fatal("failed to prepare persistence directory", logging.Error(err), logging.String("dir", cfg.PersistenceDir))
	}
	writer := persistwrite.NewBackend(cfg.PersistenceDir)

	sessions := &lazySessionLister{}
	outboundTransport := &lazyOutboundTransport{}
	combatTransport := &lazyOutboundTransport{}
	dropper := &lazyDropper{}

	router := newZoneCombatRouter(combatTransport, logger)

	orch := orchestrator.New(cfg, logger, orchestrator.Deps{
		Transport:          dropper,
		OutboundTransport:  outboundTransport,
		OutboundSessions:   sessions,
		FrameDecoder:       rawFrameDecoder{},
		PersistenceWriter:  writer,
		SubscriberResolver: router,
		VisibilityPolicy:   router,
		CombatSender:       router,
		CombatSink:         router,
	})
	sessions.orch = orch
	router.orch = orch

	limiters := newJoinLimiterSet(joinRateWindow, joinRateBurst)
	server := transport.New(orch.InboundMailbox(), joinHandler(verifier, limiters, logger))
	outboundTransport.srv = server
	combatTransport.srv = server
	dropper.srv = server

	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	mux.HandleFunc("/healthz", healthzHandler(orch, startedAt))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	orch.Start()
	defer orch.Stop()

	go func() {
		logger.Info("tick server listening", logging.String("address", listenerURL(cfg.ListenAddr, false)))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server terminated", logging.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", logging.Error(err))
	}
}

func healthzHandler(orch *orchestrator.Orchestrator, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"uptime_seconds": time.Since(startedAt).Seconds(),
			"sessions":       orch.Sessions().Len(),
		})
	}
}

// lazySessionLister defers to the orchestrator's active-session index, which
// does not exist until after orchestrator.New returns; wiring populates orch
// once construction completes, mirroring the bound-method deferral
// orchestrator.New itself uses for its tick-thread asserter.
type lazySessionLister struct {
	orch *orchestrator.Orchestrator
}

func (l *lazySessionLister) Snapshot() []registry.SessionID {
	if l.orch == nil {
		return nil
	}
	return l.orch.Sessions().Snapshot()
}

// lazyOutboundTransport defers to the transport server, constructed after
// the orchestrator since it needs the orchestrator's inbound mailbox.
type lazyOutboundTransport struct {
	srv *transport.Server
}

func (l *lazyOutboundTransport) Send(session registry.SessionID, snapshot outbound.Snapshot) error {
	if l.srv == nil {
		return errors.New("tickserver: transport not ready")
	}
	return l.srv.Send(session, snapshot)
}

// lazyDropper satisfies orchestrator.Transport ahead of the transport
// server's construction.
type lazyDropper struct {
	srv *transport.Server
}

func (l *lazyDropper) DropAllForSession(session registry.SessionID) {
	if l.srv != nil {
		l.srv.DropAllForSession(session)
	}
}

// rawFrameDecoder treats every inbound frame as a single generic command
// type, leaving payload interpretation entirely to registered participants.
type rawFrameDecoder struct{}

func (rawFrameDecoder) Decode(payload []byte) (uint32, bool) {
	return 0, len(payload) > 0
}

// zoneCombatRouter fans combat events out to a zone's roster over the
// websocket transport. Visibility is unrestricted: no line-of-sight or
// privacy subsystem is in scope here.
type zoneCombatRouter struct {
	transport *lazyOutboundTransport
	logger    *logging.Logger
	orch      *orchestrator.Orchestrator
}

func newZoneCombatRouter(t *lazyOutboundTransport, logger *logging.Logger) *zoneCombatRouter {
	return &zoneCombatRouter{transport: t, logger: logger}
}

func (z *zoneCombatRouter) Subscribers(event combatevents.Event) []registry.SessionID {
	if z.orch == nil {
		return nil
	}
	zone := registry.ZoneID(event.ContextID)
	if !zone.Valid() {
		return nil
	}
	return z.orch.ZoneRoster(zone).Snapshot().ActiveSessions
}

func (z *zoneCombatRouter) CanReceive(registry.SessionID, combatevents.Event) bool { return true }

func (z *zoneCombatRouter) SendReliable(client registry.SessionID, event combatevents.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		z.logger.Warn("failed to encode combat event", logging.Error(err))
		return
	}
	if err := z.transport.Send(client, outbound.Snapshot{Session: client, Payload: payload}); err != nil {
		z.logger.Debug("combat event delivery skipped", logging.Error(err))
	}
}

func (z *zoneCombatRouter) RecordDelivery(registry.SessionID, combatevents.Event) {}

// joinLimiterSet tracks one sliding-window limiter per remote address,
// bounding how many join attempts a single address may make per window
// ahead of join-token verification.
type joinLimiterSet struct {
	window time.Duration
	burst  int

	mu       sync.Mutex
	limiters map[string]*httpapi.SlidingWindowLimiter
}

func newJoinLimiterSet(window time.Duration, burst int) *joinLimiterSet {
	return &joinLimiterSet{window: window, burst: burst, limiters: make(map[string]*httpapi.SlidingWindowLimiter)}
}

func (s *joinLimiterSet) allow(remoteAddr string) bool {
	key := remoteAddr
	if host, _, err := splitHost(remoteAddr); err == nil {
		key = host
	}
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = httpapi.NewSlidingWindowLimiter(s.window, s.burst, nil)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func splitHost(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, "", errors.New("tickserver: no port in address")
	}
	return addr[:idx], addr[idx+1:], nil
}

// joinHandler authenticates and rate-limits each upgrade request, rejecting
// it before any websocket frame is read. Client-provided identifiers are
// rejected by identity.ProcessJoin; this server never trusts them.
func joinHandler(verifier *identity.JoinTokenVerifier, limiters *joinLimiterSet, logger *logging.Logger) transport.JoinHandler {
	return func(r *http.Request) (registry.SessionID, bool) {
		if !limiters.allow(r.RemoteAddr) {
			logger.Warn("join rejected: rate limited", logging.String("remote_addr", r.RemoteAddr))
			return registry.SessionID{}, false
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		req := identity.JoinRequest{
			Token:                      token,
			ClientProvidedPlayerID:     r.URL.Query().Get("player_id"),
			ClientProvidedSaveID:       r.URL.Query().Get("save_id"),
			ClientProvidedBindingToken: r.URL.Query().Get("binding_token"),
		}
		session, _, err := identity.ProcessJoin(verifier, req)
		if err != nil {
			logger.Warn("join rejected", logging.Error(err))
			return registry.SessionID{}, false
		}
		return session, true
	}
}
