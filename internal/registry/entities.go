// Package registry maintains the deterministic entity and active-session
// indices consumed by ordered iteration in the simulation core. Every
// snapshot it returns is sorted ascending and safe to iterate without
// holding any lock.
package registry

import (
	"sort"
	"sync"
)

// EntityHandle is an opaque positive integer identifying a live entity.
// Zero and negative values are invalid.
type EntityHandle int64

// Valid reports whether the handle identifies a real entity.
func (h EntityHandle) Valid() bool { return h > 0 }

// ZoneID is an opaque positive integer identifying a zone. Zero and
// negative values are invalid.
type ZoneID int64

// Valid reports whether the zone identifier is well-formed.
func (z ZoneID) Valid() bool { return z > 0 }

// EntityRegistry keeps entity-to-zone and zone-to-entities mappings
// consistent under a single lock, and caches a sorted snapshot that is
// rebuilt only when entities are added or removed.
type EntityRegistry struct {
	mu sync.Mutex

	entityZone map[EntityHandle]ZoneID
	zoneEntities map[ZoneID]map[EntityHandle]struct{}
	insertOrder  []EntityHandle
	insertIndex  map[EntityHandle]int

	dirty    bool
	snapshot []EntityHandle
}

// NewEntityRegistry constructs an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		entityZone:   make(map[EntityHandle]ZoneID),
		zoneEntities: make(map[ZoneID]map[EntityHandle]struct{}),
		insertIndex:  make(map[EntityHandle]int),
	}
}

// Register adds the entity to the given zone. It returns false without
// mutating state if the entity is already present or either identifier is
// invalid.
func (r *EntityRegistry) Register(entity EntityHandle, zone ZoneID) bool {
	if r == nil || !entity.Valid() || !zone.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entityZone[entity]; exists {
		return false
	}
	r.entityZone[entity] = zone
	bucket, ok := r.zoneEntities[zone]
	if !ok {
		bucket = make(map[EntityHandle]struct{})
		r.zoneEntities[zone] = bucket
	}
	bucket[entity] = struct{}{}
	r.insertIndex[entity] = len(r.insertOrder)
	r.insertOrder = append(r.insertOrder, entity)
	r.dirty = true
	return true
}

// Unregister removes the entity from every internal view.
func (r *EntityRegistry) Unregister(entity EntityHandle) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, exists := r.entityZone[entity]
	if !exists {
		return false
	}
	delete(r.entityZone, entity)
	if bucket, ok := r.zoneEntities[zone]; ok {
		delete(bucket, entity)
		if len(bucket) == 0 {
			delete(r.zoneEntities, zone)
		}
	}
	r.removeFromInsertOrder(entity)
	r.dirty = true
	return true
}

// DespawnZone removes every entity registered under the zone.
func (r *EntityRegistry) DespawnZone(zone ZoneID) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.zoneEntities[zone]
	if !ok {
		return 0
	}
	removed := 0
	for entity := range bucket {
		delete(r.entityZone, entity)
		r.removeFromInsertOrder(entity)
		removed++
	}
	delete(r.zoneEntities, zone)
	if removed > 0 {
		r.dirty = true
	}
	return removed
}

// ClearAll empties the registry entirely.
func (r *EntityRegistry) ClearAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entityZone = make(map[EntityHandle]ZoneID)
	r.zoneEntities = make(map[ZoneID]map[EntityHandle]struct{})
	r.insertOrder = nil
	r.insertIndex = make(map[EntityHandle]int)
	r.snapshot = nil
	r.dirty = false
}

// ZoneOf reports the zone an entity is currently registered under.
func (r *EntityRegistry) ZoneOf(entity EntityHandle) (ZoneID, bool) {
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	zone, ok := r.entityZone[entity]
	return zone, ok
}

// Snapshot returns the registry's entities sorted ascending by handle. The
// returned slice must not be mutated by callers; it is reused across calls
// until the registry changes again.
func (r *EntityRegistry) Snapshot() []EntityHandle {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty || r.snapshot == nil {
		r.rebuildSnapshot()
	}
	return r.snapshot
}

func (r *EntityRegistry) rebuildSnapshot() {
	//1.- Materialise the current insertion-ordered entities into a fresh slice.
	out := make([]EntityHandle, len(r.insertOrder))
	copy(out, r.insertOrder)
	//2.- Sort ascending so iteration order never depends on map or insertion order.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	r.snapshot = out
	r.dirty = false
}

func (r *EntityRegistry) removeFromInsertOrder(entity EntityHandle) {
	idx, ok := r.insertIndex[entity]
	if !ok {
		return
	}
	last := len(r.insertOrder) - 1
	moved := r.insertOrder[last]
	r.insertOrder[idx] = moved
	r.insertOrder = r.insertOrder[:last]
	r.insertIndex[moved] = idx
	delete(r.insertIndex, entity)
}
