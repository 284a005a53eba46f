package registry

import "testing"

func TestRegisterRejectsInvalidOrDuplicate(t *testing.T) {
	r := NewEntityRegistry()
	if r.Register(0, 1) {
		t.Fatal("expected invalid entity handle to be rejected")
	}
	if r.Register(1, 0) {
		t.Fatal("expected invalid zone id to be rejected")
	}
	if !r.Register(1, 10) {
		t.Fatal("expected first registration to succeed")
	}
	if r.Register(1, 10) {
		t.Fatal("expected duplicate registration to be rejected")
	}
}

func TestSnapshotIsSortedAscending(t *testing.T) {
	r := NewEntityRegistry()
	for _, e := range []EntityHandle{200, 10, 100, 1} {
		r.Register(e, 1)
	}
	snap := r.Snapshot()
	want := []EntityHandle{1, 10, 100, 200}
	if len(snap) != len(want) {
		t.Fatalf("unexpected snapshot length: %v", snap)
	}
	for i, e := range want {
		if snap[i] != e {
			t.Fatalf("snapshot[%d] = %d, want %d (full: %v)", i, snap[i], e, snap)
		}
	}
}

func TestUnregisterRemovesFromAllViews(t *testing.T) {
	r := NewEntityRegistry()
	r.Register(1, 5)
	r.Register(2, 5)
	if !r.Unregister(1) {
		t.Fatal("expected unregister to succeed")
	}
	if r.Unregister(1) {
		t.Fatal("expected second unregister to fail")
	}
	if zone, ok := r.ZoneOf(1); ok {
		t.Fatalf("expected entity 1 to be gone, got zone %d", zone)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0] != 2 {
		t.Fatalf("unexpected snapshot after unregister: %v", snap)
	}
}

func TestDespawnZoneRemovesAllMembers(t *testing.T) {
	r := NewEntityRegistry()
	r.Register(1, 5)
	r.Register(2, 5)
	r.Register(3, 6)
	removed := r.DespawnZone(5)
	if removed != 2 {
		t.Fatalf("expected 2 entities removed, got %d", removed)
	}
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0] != 3 {
		t.Fatalf("unexpected snapshot after despawn: %v", snap)
	}
}

func TestClearAllEmptiesRegistry(t *testing.T) {
	r := NewEntityRegistry()
	r.Register(1, 5)
	r.ClearAll()
	if len(r.Snapshot()) != 0 {
		t.Fatal("expected empty snapshot after ClearAll")
	}
	if !r.Register(1, 5) {
		t.Fatal("expected registry to accept registrations after ClearAll")
	}
}

func TestSnapshotCachedUntilDirty(t *testing.T) {
	r := NewEntityRegistry()
	r.Register(1, 5)
	first := r.Snapshot()
	second := r.Snapshot()
	if &first[0] != &second[0] {
		t.Fatal("expected snapshot to be cached (same backing array) when registry is unchanged")
	}
	r.Register(2, 5)
	third := r.Snapshot()
	if len(third) != 2 {
		t.Fatalf("expected rebuilt snapshot to include new entity, got %v", third)
	}
}
