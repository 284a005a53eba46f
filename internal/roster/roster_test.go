package roster

import (
	"testing"
	"time"

	"tickruntime/broker/internal/registry"
)

func sid(b byte) registry.SessionID {
	var id registry.SessionID
	id[15] = b
	return id
}

func TestNewLoadsEnvironmentCapacity(t *testing.T) {
	lookup := func(key string) string {
		switch key {
		case envZoneMinSessions:
			return "2"
		case envZoneMaxSessions:
			return "8"
		}
		return ""
	}
	r, err := New(registry.ZoneID(1), WithEnvLookup(lookup))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	snap := r.Snapshot()
	if snap.Capacity.MinSessions != 2 || snap.Capacity.MaxSessions != 8 {
		t.Fatalf("unexpected capacity: %+v", snap.Capacity)
	}
}

func TestJoinAndLeavePreservesRoster(t *testing.T) {
	r, err := New(registry.ZoneID(1),
		WithCapacity(Capacity{MinSessions: 1, MaxSessions: 2}),
		WithClock(func() time.Time { return time.Unix(0, 0) }),
		WithEnvLookup(nil),
	)
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}

	if _, err := r.Join(sid(1)); err != nil {
		t.Fatalf("join 1: %v", err)
	}
	if _, err := r.Join(sid(2)); err != nil {
		t.Fatalf("join 2: %v", err)
	}
	if _, err := r.Join(sid(3)); err != ErrZoneFull {
		t.Fatalf("expected ErrZoneFull, got %v", err)
	}

	afterLeave := r.Leave(sid(2))
	if len(afterLeave.ActiveSessions) != 1 || afterLeave.ActiveSessions[0] != sid(1) {
		t.Fatalf("unexpected roster after leave: %+v", afterLeave.ActiveSessions)
	}

	snapshot, err := r.Join(sid(2))
	if err != nil {
		t.Fatalf("rejoin 2: %v", err)
	}
	if len(snapshot.ActiveSessions) != 2 {
		t.Fatalf("unexpected roster size: %+v", snapshot.ActiveSessions)
	}
}

func TestJoinRejectsInvalidSession(t *testing.T) {
	r, err := New(registry.ZoneID(1), WithEnvLookup(nil))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	if _, err := r.Join(registry.SessionID{}); err != ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestAdjustCapacityValidations(t *testing.T) {
	r, err := New(registry.ZoneID(1),
		WithCapacity(Capacity{MinSessions: 0, MaxSessions: 3}),
		WithEnvLookup(nil),
	)
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	for _, b := range []byte{1, 2, 3} {
		if _, err := r.Join(sid(b)); err != nil {
			t.Fatalf("join %d: %v", b, err)
		}
	}

	if _, err := r.AdjustCapacity(0, 2); err == nil {
		t.Fatal("expected error when shrinking below active sessions")
	}

	updated, err := r.AdjustCapacity(1, 4)
	if err != nil {
		t.Fatalf("adjust capacity: %v", err)
	}
	if updated.Capacity.MinSessions != 1 || updated.Capacity.MaxSessions != 4 {
		t.Fatalf("unexpected capacity: %+v", updated.Capacity)
	}
}
