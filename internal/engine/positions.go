// positions.go tracks per-(user, market) share holdings. Only the matcher
// adds shares and only settlement clears them. The store keeps a weighted
// average entry cost per side as the sufficient statistic — no lot-level
// accounting.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"predx/pkg/types"
)

// avgCostScale is the decimal scale for weighted-average cost division.
const avgCostScale = 4

// PositionStore holds every position, keyed by (userID, marketID).
type PositionStore struct {
	mu  sync.RWMutex
	pos map[string]*types.Position
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{pos: make(map[string]*types.Position)}
}

func posKey(userID, marketID string) string {
	return userID + "|" + marketID
}

// AddShares credits q shares of the given outcome at costPerShare and
// recomputes the side's weighted-average cost:
//
//	newAvg = (s0·c0 + q·cost) / (s0 + q)
//
// rounded half-up to four decimals.
func (s *PositionStore) AddShares(userID, marketID string, outcome types.Outcome, q int64, costPerShare decimal.Decimal) (types.Position, error) {
	if q < 1 {
		return types.Position{}, fmt.Errorf("add %d shares: %w", q, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := posKey(userID, marketID)
	p, ok := s.pos[key]
	if !ok {
		p = &types.Position{UserID: userID, MarketID: marketID}
		s.pos[key] = p
	}

	qd := decimal.NewFromInt(q)
	switch outcome {
	case types.YES:
		total := p.AvgYesCost.Mul(decimal.NewFromInt(p.YesShares)).Add(costPerShare.Mul(qd))
		p.YesShares += q
		p.AvgYesCost = total.DivRound(decimal.NewFromInt(p.YesShares), avgCostScale)
	case types.NO:
		total := p.AvgNoCost.Mul(decimal.NewFromInt(p.NoShares)).Add(costPerShare.Mul(qd))
		p.NoShares += q
		p.AvgNoCost = total.DivRound(decimal.NewFromInt(p.NoShares), avgCostScale)
	default:
		return types.Position{}, fmt.Errorf("add shares: unknown outcome %q", outcome)
	}
	p.UpdatedAt = time.Now()
	return *p, nil
}

// Clear zeroes both sides of a position; settlement calls this after paying
// out winning shares.
func (s *PositionStore) Clear(userID, marketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pos[posKey(userID, marketID)]
	if !ok {
		return
	}
	p.YesShares = 0
	p.NoShares = 0
	p.AvgYesCost = decimal.Zero
	p.AvgNoCost = decimal.Zero
	p.UpdatedAt = time.Now()
}

// Get returns a copy of the position for (userID, marketID).
func (s *PositionStore) Get(userID, marketID string) (types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pos[posKey(userID, marketID)]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// ByMarket returns copies of all positions in a market.
func (s *PositionStore) ByMarket(marketID string) []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Position
	for _, p := range s.pos {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out
}

// ByUser returns copies of all of a user's positions.
func (s *PositionStore) ByUser(userID string) []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Position
	for _, p := range s.pos {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out
}

// All returns copies of every position, for snapshots.
func (s *PositionStore) All() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Position, 0, len(s.pos))
	for _, p := range s.pos {
		out = append(out, *p)
	}
	return out
}

// Restore replaces the store contents from a snapshot.
func (s *PositionStore) Restore(positions []types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pos = make(map[string]*types.Position, len(positions))
	for i := range positions {
		p := positions[i]
		s.pos[posKey(p.UserID, p.MarketID)] = &p
	}
}
