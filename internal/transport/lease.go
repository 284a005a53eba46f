package transport

import "sync"

// pooledLease is a byte buffer rented from a process-wide pool, crossing
// from a transport goroutine onto the tick thread (inbound) or back
// (outbound). Release returns the backing array to the pool; callers must
// release on every exit path, including drops.
type pooledLease struct {
	buf  []byte
	pool *sync.Pool
}

func (l *pooledLease) Bytes() []byte { return l.buf }
func (l *pooledLease) Size() int     { return len(l.buf) }
func (l *pooledLease) Release() {
	if l.pool == nil {
		return
	}
	//nolint:staticcheck // reset length, keep capacity for reuse
	l.pool.Put(l.buf[:0])
	l.pool = nil
}

// leasePool rents fixed-growth byte slices and recycles them on Release.
type leasePool struct {
	pool sync.Pool
}

func newLeasePool() *leasePool {
	return &leasePool{
		pool: sync.Pool{New: func() any { return make([]byte, 0, 4096) }},
	}
}

// Rent copies payload into a pooled buffer and returns a lease owning it.
func (p *leasePool) Rent(payload []byte) *pooledLease {
	buf := p.pool.Get().([]byte)
	buf = append(buf[:0], payload...)
	return &pooledLease{buf: buf, pool: &p.pool}
}
