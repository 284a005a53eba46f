package combatevents

import "testing"

func TestDeliveryGuardHitOnRepeatedEventSameTick(t *testing.T) {
	g := NewDeliveryGuard(10)
	hit, overflowed := g.Offer(1, 42)
	if hit || overflowed {
		t.Fatalf("expected first offer to be a miss, got hit=%v overflowed=%v", hit, overflowed)
	}
	hit, overflowed = g.Offer(1, 42)
	if !hit {
		t.Fatal("expected repeated event within same tick to hit")
	}
}

func TestDeliveryGuardClearsOnTickChange(t *testing.T) {
	g := NewDeliveryGuard(10)
	g.Offer(1, 42)
	hit, _ := g.Offer(2, 42)
	if hit {
		t.Fatal("expected event id to miss again after tick change")
	}
}

func TestDeliveryGuardOverflowClearsAndCounts(t *testing.T) {
	g := NewDeliveryGuard(2)
	g.Offer(1, 1)
	g.Offer(1, 2)
	hit, overflowed := g.Offer(1, 3)
	if hit {
		t.Fatal("expected overflow offer to still be a miss")
	}
	if !overflowed {
		t.Fatal("expected overflow to be reported")
	}
	if g.OverflowCount() != 1 {
		t.Fatalf("expected overflow count 1, got %d", g.OverflowCount())
	}
	// Guard was cleared by the overflow, so event 1 now misses again.
	hit, _ = g.Offer(1, 1)
	if hit {
		t.Fatal("expected guard to have been cleared by the overflow")
	}
}
