package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TICKRUNTIME_LISTEN_ADDR", "")
	t.Setenv("TICKRUNTIME_PERSISTENCE_DIR", "")
	t.Setenv("TICKRUNTIME_TICK_INTERVAL", "")
	t.Setenv("TICKRUNTIME_CATCH_UP_CAP", "")
	t.Setenv("TICKRUNTIME_STALL_THRESHOLD", "")
	t.Setenv("TICKRUNTIME_MAX_INBOUND_COMMANDS_PER_SESSION", "")
	t.Setenv("TICKRUNTIME_MAX_QUEUED_BYTES_PER_SESSION", "")
	t.Setenv("TICKRUNTIME_MAX_OUTBOUND_SNAPSHOTS_PER_SESSION", "")
	t.Setenv("TICKRUNTIME_MAX_PERSISTENCE_WRITES_PER_PLAYER", "")
	t.Setenv("TICKRUNTIME_MAX_PERSISTENCE_WRITES_GLOBAL", "")
	t.Setenv("TICKRUNTIME_MAX_FRAMES_PER_TICK", "")
	t.Setenv("TICKRUNTIME_LOG_MAX_SIZE_MB", "")
	t.Setenv("TICKRUNTIME_LOG_COMPRESS", "")
	t.Setenv("TICKRUNTIME_JOIN_TOKEN_SECRET", "dev-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected default listen addr %q, got %q", DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.TickInterval != DefaultTickInterval {
		t.Fatalf("expected default tick interval %v, got %v", DefaultTickInterval, cfg.TickInterval)
	}
	if cfg.Backpressure.MaxInboundCommandsPerSession != DefaultMaxInboundCommandsPerSession {
		t.Fatalf("expected default inbound cap %d, got %d", DefaultMaxInboundCommandsPerSession, cfg.Backpressure.MaxInboundCommandsPerSession)
	}
	if cfg.Backpressure.MaxQueuedBytesPerSession != DefaultMaxQueuedBytesPerSession {
		t.Fatalf("expected default queued bytes %d, got %d", DefaultMaxQueuedBytesPerSession, cfg.Backpressure.MaxQueuedBytesPerSession)
	}
}

func TestLoadRejectsMissingJoinTokenSecret(t *testing.T) {
	t.Setenv("TICKRUNTIME_JOIN_TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when join token secret is unset")
	}
}

func TestLoadCollectsMultipleProblems(t *testing.T) {
	t.Setenv("TICKRUNTIME_JOIN_TOKEN_SECRET", "")
	t.Setenv("TICKRUNTIME_TICK_INTERVAL", "not-a-duration")
	t.Setenv("TICKRUNTIME_CATCH_UP_CAP", "-5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected combined error")
	}
	msg := err.Error()
	for _, want := range []string{"TICKRUNTIME_JOIN_TOKEN_SECRET", "TICKRUNTIME_TICK_INTERVAL", "TICKRUNTIME_CATCH_UP_CAP"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to mention %s, got %q", want, msg)
		}
	}
}

func TestLoadAppliesOverride(t *testing.T) {
	t.Setenv("TICKRUNTIME_JOIN_TOKEN_SECRET", "dev-secret")
	t.Setenv("TICKRUNTIME_TICK_INTERVAL", "50ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickInterval != 50*time.Millisecond {
		t.Fatalf("expected overridden tick interval, got %v", cfg.TickInterval)
	}
}
