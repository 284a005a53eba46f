// Package persistwrite is the concrete, file-backed implementation of the
// persistence.Writer contract. Durable artifacts are zstd-compressed for
// archival density; the lightweight confirmation echoed back through the
// completion mailbox is snappy-compressed for fast round-trip decode on the
// tick thread.
package persistwrite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"tickruntime/broker/internal/mailbox"
	"tickruntime/broker/internal/persistence"
)

// Backend writes each request's payload to dir/<saveId>.zst, replacing any
// prior artifact atomically via a temp-file rename.
type Backend struct {
	dir      string
	encoders sync.Pool
}

// NewBackend constructs a file-backed writer rooted at dir. dir must
// already exist; Backend never creates directories, matching the "no
// reliance on surprise side effects" posture of the rest of the core.
func NewBackend(dir string) *Backend {
	return &Backend{
		dir: dir,
		encoders: sync.Pool{
			New: func() any {
				enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
				if err != nil {
					panic(fmt.Sprintf("persistwrite: constructing zstd encoder: %v", err))
				}
				return enc
			},
		},
	}
}

// Write compresses req.Payload and atomically replaces the save's on-disk
// artifact, returning a pooled-free snappy-compressed echo as the
// completion's payload lease.
func (b *Backend) Write(ctx context.Context, req persistence.WriteRequest) (mailbox.Lease, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	enc := b.encoders.Get().(*zstd.Encoder)
	archived := enc.EncodeAll(req.Payload, nil)
	enc.Close()
	b.encoders.Put(enc)

	path := filepath.Join(b.dir, req.SaveID+".zst")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, archived, 0o600); err != nil {
		return nil, fmt.Errorf("persistwrite: writing temp artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("persistwrite: renaming artifact into place: %w", err)
	}

	echo := snappy.Encode(nil, req.Payload)
	return &echoLease{data: echo}, nil
}

// echoLease is a plain heap-backed lease; Release is a no-op since the
// backing array is not pool-managed. Components that rent from a pool
// implement their own Lease with a real return path.
type echoLease struct {
	data []byte
}

func (l *echoLease) Bytes() []byte { return l.data }
func (l *echoLease) Size() int     { return len(l.data) }
func (l *echoLease) Release()      {}
