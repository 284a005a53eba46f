// Package config loads runtime tunables for the tick server from
// environment variables, applying the defaults from the backpressure
// configuration and returning descriptive, combined errors for invalid
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTickRateHz is the scheduler's fixed tick cadence.
	DefaultTickRateHz = 10
	// DefaultTickInterval is the duration of one tick at DefaultTickRateHz.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultMaxInboundCommandsPerSession bounds one session's inbound
	// command queue depth.
	DefaultMaxInboundCommandsPerSession = 64
	// DefaultMaxQueuedBytesPerSession bounds one session's inbound queue
	// byte budget.
	DefaultMaxQueuedBytesPerSession int64 = 256 << 10
	// DefaultMaxOutboundSnapshotsPerSession bounds one session's outbound
	// snapshot queue depth.
	DefaultMaxOutboundSnapshotsPerSession = 8

	// DefaultMaxPersistenceWritesPerPlayer bounds queued write requests per
	// player.
	DefaultMaxPersistenceWritesPerPlayer = 16
	// DefaultMaxPersistenceWritesGlobal bounds total queued write requests.
	DefaultMaxPersistenceWritesGlobal = 128
	// DefaultMaxPersistenceWriteBytesPerPlayer bounds queued write bytes
	// per player.
	DefaultMaxPersistenceWriteBytesPerPlayer int64 = 1 << 20
	// DefaultMaxPersistenceWriteBytesGlobal bounds total queued write
	// bytes.
	DefaultMaxPersistenceWriteBytesGlobal int64 = 8 << 20
	// DefaultMaxPersistenceCompletions bounds the completion mailbox depth.
	DefaultMaxPersistenceCompletions = 128
	// DefaultMaxPersistenceCompletionBytes bounds the completion mailbox
	// byte budget.
	DefaultMaxPersistenceCompletionBytes int64 = 512 << 10

	// DefaultMaxFramesPerTick bounds how many inbound frames the ingestor
	// drains in a single tick.
	DefaultMaxFramesPerTick = 256
	// DefaultCatchUpCap bounds consecutive ticks executed per scheduler
	// iteration after a lag.
	DefaultCatchUpCap = 10
	// DefaultStallThreshold is how long without a completed tick before the
	// watchdog signals a stall.
	DefaultStallThreshold = 2 * time.Second

	// DefaultListenAddr is the address the tick server's transport listens
	// on.
	DefaultListenAddr = ":43127"
	// DefaultPersistenceDir is where the file-backed persistence writer
	// stores compressed artifacts.
	DefaultPersistenceDir = "./data"

	// DefaultLogLevel controls verbosity for structured logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "tickserver.log"
	// DefaultLogMaxSizeMB caps a single log file's size before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Backpressure is the immutable record of per-session and persistence caps
// consumed by the mailboxes. Every field must be strictly positive.
type Backpressure struct {
	MaxInboundCommandsPerSession   int
	MaxQueuedBytesPerSession       int64
	MaxOutboundSnapshotsPerSession int

	MaxPersistenceWritesPerPlayer     int
	MaxPersistenceWritesGlobal        int
	MaxPersistenceWriteBytesPerPlayer int64
	MaxPersistenceWriteBytesGlobal    int64
	MaxPersistenceCompletions         int
	MaxPersistenceCompletionBytes     int64

	MaxFramesPerTick int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config captures every runtime tunable for the tick server.
type Config struct {
	ListenAddr      string
	TickInterval    time.Duration
	CatchUpCap      int
	StallThreshold  time.Duration
	PersistenceDir  string
	JoinTokenSecret string
	Backpressure    Backpressure
	Logging         LoggingConfig
}

// Load reads the tick server configuration from environment variables,
// applying defaults and collecting every validation problem before
// returning a single combined error.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getString("TICKRUNTIME_LISTEN_ADDR", DefaultListenAddr),
		TickInterval:    DefaultTickInterval,
		CatchUpCap:      DefaultCatchUpCap,
		StallThreshold:  DefaultStallThreshold,
		PersistenceDir:  getString("TICKRUNTIME_PERSISTENCE_DIR", DefaultPersistenceDir),
		JoinTokenSecret: strings.TrimSpace(os.Getenv("TICKRUNTIME_JOIN_TOKEN_SECRET")),
		Backpressure: Backpressure{
			MaxInboundCommandsPerSession:      DefaultMaxInboundCommandsPerSession,
			MaxQueuedBytesPerSession:          DefaultMaxQueuedBytesPerSession,
			MaxOutboundSnapshotsPerSession:    DefaultMaxOutboundSnapshotsPerSession,
			MaxPersistenceWritesPerPlayer:     DefaultMaxPersistenceWritesPerPlayer,
			MaxPersistenceWritesGlobal:        DefaultMaxPersistenceWritesGlobal,
			MaxPersistenceWriteBytesPerPlayer: DefaultMaxPersistenceWriteBytesPerPlayer,
			MaxPersistenceWriteBytesGlobal:    DefaultMaxPersistenceWriteBytesGlobal,
			MaxPersistenceCompletions:         DefaultMaxPersistenceCompletions,
			MaxPersistenceCompletionBytes:     DefaultMaxPersistenceCompletionBytes,
			MaxFramesPerTick:                  DefaultMaxFramesPerTick,
		},
		Logging: LoggingConfig{
			Level:      getString("TICKRUNTIME_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("TICKRUNTIME_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string
	set := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_TICK_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		set(err == nil && d > 0, fmt.Sprintf("TICKRUNTIME_TICK_INTERVAL must be a positive duration, got %q", raw))
		if err == nil && d > 0 {
			cfg.TickInterval = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_CATCH_UP_CAP")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_CATCH_UP_CAP must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.CatchUpCap = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_STALL_THRESHOLD")); raw != "" {
		d, err := time.ParseDuration(raw)
		set(err == nil && d > 0, fmt.Sprintf("TICKRUNTIME_STALL_THRESHOLD must be a positive duration, got %q", raw))
		if err == nil && d > 0 {
			cfg.StallThreshold = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_INBOUND_COMMANDS_PER_SESSION")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_INBOUND_COMMANDS_PER_SESSION must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxInboundCommandsPerSession = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_QUEUED_BYTES_PER_SESSION")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_QUEUED_BYTES_PER_SESSION must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxQueuedBytesPerSession = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_OUTBOUND_SNAPSHOTS_PER_SESSION")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_OUTBOUND_SNAPSHOTS_PER_SESSION must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxOutboundSnapshotsPerSession = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_PERSISTENCE_WRITES_PER_PLAYER")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_PERSISTENCE_WRITES_PER_PLAYER must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxPersistenceWritesPerPlayer = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_PERSISTENCE_WRITES_GLOBAL")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_PERSISTENCE_WRITES_GLOBAL must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxPersistenceWritesGlobal = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_MAX_FRAMES_PER_TICK")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_MAX_FRAMES_PER_TICK must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Backpressure.MaxFramesPerTick = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_LOG_MAX_SIZE_MB")); raw != "" {
		v, err := strconv.Atoi(raw)
		set(err == nil && v > 0, fmt.Sprintf("TICKRUNTIME_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		if err == nil && v > 0 {
			cfg.Logging.MaxSizeMB = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("TICKRUNTIME_LOG_COMPRESS")); raw != "" {
		v, err := strconv.ParseBool(raw)
		set(err == nil, fmt.Sprintf("TICKRUNTIME_LOG_COMPRESS must be a boolean value, got %q", raw))
		if err == nil {
			cfg.Logging.Compress = v
		}
	}

	if cfg.JoinTokenSecret == "" {
		problems = append(problems, "TICKRUNTIME_JOIN_TOKEN_SECRET must be set")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
