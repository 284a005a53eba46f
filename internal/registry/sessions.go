package registry

import (
	"sort"
	"sync"
)

// SessionID is an opaque 128-bit identifier for a player session. The
// invariant is valid ⇔ non-zero bits; the zero value is never issued to a
// real client. Session ids are server-issued (see internal/identity) —
// client-supplied candidates are rejected before any state is created.
type SessionID [16]byte

// Valid reports whether the identifier carries at least one non-zero bit.
func (s SessionID) Valid() bool {
	return s != SessionID{}
}

// Compare orders two session ids lexicographically by byte value, giving a
// total, deterministic order independent of issuance time or hash layout.
func (s SessionID) Compare(other SessionID) int {
	for i := range s {
		if s[i] != other[i] {
			if s[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ActiveSessionIndex maintains a sorted array of valid session ids under a
// single lock. Insert/Remove replace the backing array rather than
// mutating it in place, so a Snapshot handed to one goroutine stays valid
// even if another goroutine mutates the index afterward.
type ActiveSessionIndex struct {
	mu  sync.Mutex
	ids []SessionID
}

// NewActiveSessionIndex constructs an empty index.
func NewActiveSessionIndex() *ActiveSessionIndex {
	return &ActiveSessionIndex{}
}

// Insert adds the session id, preserving sort order. It reports false
// without mutating state if the id is invalid or already present.
func (idx *ActiveSessionIndex) Insert(id SessionID) bool {
	if idx == nil || !id.Valid() {
		return false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	pos, found := idx.search(id)
	if found {
		return false
	}
	next := make([]SessionID, len(idx.ids)+1)
	copy(next, idx.ids[:pos])
	next[pos] = id
	copy(next[pos+1:], idx.ids[pos:])
	idx.ids = next
	return true
}

// Remove deletes the session id if present.
func (idx *ActiveSessionIndex) Remove(id SessionID) bool {
	if idx == nil {
		return false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	pos, found := idx.search(id)
	if !found {
		return false
	}
	next := make([]SessionID, len(idx.ids)-1)
	copy(next, idx.ids[:pos])
	copy(next[pos:], idx.ids[pos+1:])
	idx.ids = next
	return true
}

// Contains reports whether the session id is currently active.
func (idx *ActiveSessionIndex) Contains(id SessionID) bool {
	if idx == nil {
		return false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, found := idx.search(id)
	return found
}

// Len returns the number of active sessions.
func (idx *ActiveSessionIndex) Len() int {
	if idx == nil {
		return 0
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.ids)
}

// Snapshot returns the sorted session ids as of this call. The returned
// slice is never mutated in place by later Insert/Remove calls, so callers
// may retain and read it from any goroutine.
func (idx *ActiveSessionIndex) Snapshot() []SessionID {
	if idx == nil {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ids
}

func (idx *ActiveSessionIndex) search(id SessionID) (int, bool) {
	pos := sort.Search(len(idx.ids), func(i int) bool { return idx.ids[i].Compare(id) >= 0 })
	if pos < len(idx.ids) && idx.ids[pos] == id {
		return pos, true
	}
	return pos, false
}
