package engine

import (
	"testing"

	"predx/pkg/types"
)

func TestPositionsWeightedAverageCost(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if _, err := s.AddShares("alice", "m1", types.YES, 100, d("0.60")); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, err := s.AddShares("alice", "m1", types.YES, 50, d("0.90"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// (100×0.60 + 50×0.90) / 150 = 105/150 = 0.70
	if p.YesShares != 150 {
		t.Fatalf("yesShares = %d, want 150", p.YesShares)
	}
	if !p.AvgYesCost.Equal(d("0.70")) {
		t.Fatalf("avgYesCost = %s, want 0.70", p.AvgYesCost)
	}
}

func TestPositionsAverageRoundsHalfUp(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	// (1×0.50 + 2×0.60) / 3 = 1.70/3 = 0.566666… → 0.5667
	if _, err := s.AddShares("alice", "m1", types.NO, 1, d("0.50")); err != nil {
		t.Fatalf("add: %v", err)
	}
	p, err := s.AddShares("alice", "m1", types.NO, 2, d("0.60"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !p.AvgNoCost.Equal(d("0.5667")) {
		t.Fatalf("avgNoCost = %s, want 0.5667", p.AvgNoCost)
	}
}

func TestPositionsHedgedBothSides(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if _, err := s.AddShares("bob", "m1", types.YES, 40, d("0.55")); err != nil {
		t.Fatalf("add yes: %v", err)
	}
	if _, err := s.AddShares("bob", "m1", types.NO, 100, d("0.45")); err != nil {
		t.Fatalf("add no: %v", err)
	}

	p, ok := s.Get("bob", "m1")
	if !ok {
		t.Fatal("position missing")
	}
	if p.YesShares != 40 || p.NoShares != 100 {
		t.Fatalf("shares = (%d,%d), want (40,100)", p.YesShares, p.NoShares)
	}
	if p.NetExposure() != -60 {
		t.Fatalf("net exposure = %d, want -60", p.NetExposure())
	}
}

func TestPositionsRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if _, err := s.AddShares("alice", "m1", types.YES, 0, d("0.50")); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestPositionsClear(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if _, err := s.AddShares("alice", "m1", types.YES, 10, d("0.50")); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Clear("alice", "m1")

	p, ok := s.Get("alice", "m1")
	if !ok {
		t.Fatal("position missing after clear")
	}
	if p.YesShares != 0 || p.NoShares != 0 {
		t.Fatalf("shares = (%d,%d) after clear", p.YesShares, p.NoShares)
	}
	if !p.AvgYesCost.IsZero() || !p.AvgNoCost.IsZero() {
		t.Fatalf("avg costs not reset: (%s,%s)", p.AvgYesCost, p.AvgNoCost)
	}
}

func TestPositionsByMarketAndUser(t *testing.T) {
	t.Parallel()
	s := NewPositionStore()

	if _, err := s.AddShares("alice", "m1", types.YES, 1, d("0.50")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddShares("alice", "m2", types.YES, 1, d("0.50")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddShares("bob", "m1", types.NO, 1, d("0.50")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := len(s.ByMarket("m1")); got != 2 {
		t.Fatalf("ByMarket(m1) = %d positions, want 2", got)
	}
	if got := len(s.ByUser("alice")); got != 2 {
		t.Fatalf("ByUser(alice) = %d positions, want 2", got)
	}
}
